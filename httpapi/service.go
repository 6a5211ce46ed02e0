// Package httpapi exposes a facilitator over HTTP: POST /verify,
// POST /settle and GET /supported. Request bodies are validated against
// JSON schemas before they reach the engine, and settle requests are
// deduplicated through the settlement cache so client retries and
// concurrent duplicates do not hit the nonce ledger twice.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/x402kit/settlement"
)

// Service wires a Facilitator to HTTP handlers.
type Service struct {
	facilitator *settlement.Facilitator
	cache       *settlement.SettlementCache
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCacheTTL sets how long settled results are kept for deduplication.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.cache = settlement.NewSettlementCache(ttl) }
}

// NewService creates an HTTP facilitator service. The default settlement
// cache TTL is 10 minutes.
func NewService(facilitator *settlement.Facilitator, opts ...ServiceOption) *Service {
	s := &Service{
		facilitator: facilitator,
		cache:       settlement.NewSettlementCache(10 * time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers the facilitator endpoints on a gin router.
func (s *Service) Routes(r gin.IRouter) {
	r.POST("/verify", s.handleVerify)
	r.POST("/settle", s.handleSettle)
	r.GET("/supported", s.handleSupported)
}

// errorBody is the response shape for calling-convention failures.
type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (s *Service) handleVerify(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "failed to read request body"})
		return
	}

	if details := validateVerifyRequest(body); details != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid verify request", Details: details})
		return
	}

	var req settlement.VerifyRequest
	if err := unmarshalStrict(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	resp, err := s.facilitator.Verify(c.Request.Context(), req)
	if err != nil {
		// Hard failures of the calling convention (unparsable authorization,
		// unregistered scheme) surface as 400s; ordinary rejections come
		// back as isValid=false with a reason.
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleSettle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "failed to read request body"})
		return
	}

	if details := validateSettleRequest(body); details != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid settle request", Details: details})
		return
	}

	var req settlement.SettleRequest
	if err := unmarshalStrict(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	key, err := settlement.SettlementKey(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	status, cached, done := s.cache.CheckAndMark(key)
	switch status {
	case settlement.StatusCached:
		c.JSON(http.StatusOK, cached)
		return
	case settlement.StatusInFlight:
		result, waitErr := s.cache.WaitForResult(c.Request.Context(), key, done)
		if waitErr != nil {
			c.JSON(http.StatusRequestTimeout, errorBody{Error: waitErr.Error()})
			return
		}
		if result != nil {
			c.JSON(http.StatusOK, result)
			return
		}
		// The in-flight duplicate failed cleanly; fall through and run this
		// request against the engine.
		status, cached, done = s.cache.CheckAndMark(key)
		if status != settlement.StatusNotFound {
			if cached != nil {
				c.JSON(http.StatusOK, cached)
			} else {
				c.JSON(http.StatusConflict, errorBody{Error: "settlement still in flight"})
			}
			return
		}
	}

	resp, err := s.facilitator.Settle(c.Request.Context(), req)
	if err != nil {
		s.cache.Fail(key, done)
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	// Cache successes and pending outcomes; release clean failures so a
	// corrected retry re-runs validation.
	if resp.Success || resp.Pending {
		s.cache.Complete(key, resp, done)
	} else {
		s.cache.Fail(key, done)
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.Supported())
}
