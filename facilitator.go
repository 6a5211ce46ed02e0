package settlement

import (
	"context"
	"fmt"
	"sync"
)

// Facilitator routes verify and settle requests to the scheme engine
// registered for the request's network and scheme, and runs lifecycle
// hooks around the call. It is the in-process form of the service a
// resource server talks to.
type Facilitator struct {
	mu sync.RWMutex

	schemes map[Network]map[string]SchemeFacilitator
	extras  map[Network]map[string]map[string]interface{}

	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// NewFacilitator creates an empty facilitator.
func NewFacilitator() *Facilitator {
	return &Facilitator{
		schemes: make(map[Network]map[string]SchemeFacilitator),
		extras:  make(map[Network]map[string]map[string]interface{}),
	}
}

// Register registers a scheme engine for a network. The network may be a
// wildcard pattern (e.g. "eip155:*"). Optional extra data is surfaced on
// the supported-kinds listing.
func (f *Facilitator) Register(network Network, scheme SchemeFacilitator, extra ...map[string]interface{}) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.schemes[network] == nil {
		f.schemes[network] = make(map[string]SchemeFacilitator)
	}
	f.schemes[network][scheme.Scheme()] = scheme

	if len(extra) > 0 {
		if f.extras[network] == nil {
			f.extras[network] = make(map[string]map[string]interface{})
		}
		f.extras[network][scheme.Scheme()] = extra[0]
	}
	return f
}

// findScheme resolves the engine for a network and scheme, honoring
// wildcard-registered networks.
func (f *Facilitator) findScheme(network Network, scheme string) SchemeFacilitator {
	if schemes, ok := f.schemes[network]; ok {
		if s, ok := schemes[scheme]; ok {
			return s
		}
	}
	for registered, schemes := range f.schemes {
		if network.Match(registered) {
			if s, ok := schemes[scheme]; ok {
				return s
			}
		}
	}
	return nil
}

// Verify pre-screens a payment without consuming it. Repeatable; no side
// effects beyond hooks.
func (f *Facilitator) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	hookCtx := VerifyContext{Ctx: ctx, Request: req}
	for _, hook := range f.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return &VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	f.mu.RLock()
	scheme := f.findScheme(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme)
	f.mu.RUnlock()
	if scheme == nil {
		return f.unsupported(req.PaymentRequirements)
	}

	resp, err := scheme.Verify(ctx, req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		for _, hook := range f.onVerifyFailureHooks {
			result, _ := hook(VerifyFailureContext{VerifyContext: hookCtx, Error: err})
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return nil, err
	}

	for _, hook := range f.afterVerifyHooks {
		_ = hook(VerifyResultContext{VerifyContext: hookCtx, Result: resp})
	}

	return resp, nil
}

// Settle executes a payment. Not blindly retriable: the same authorization
// settles at most once.
func (f *Facilitator) Settle(ctx context.Context, req SettleRequest) (*SettleResponse, error) {
	hookCtx := SettleContext{Ctx: ctx, Request: req}
	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return &SettleResponse{Success: false, ErrorReason: result.Reason}, nil
		}
	}

	f.mu.RLock()
	scheme := f.findScheme(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme)
	f.mu.RUnlock()
	if scheme == nil {
		reason := ErrUnsupportedNetwork
		if f.hasNetwork(req.PaymentRequirements.Network) {
			reason = ErrUnsupportedScheme
		}
		return &SettleResponse{
			Success:     false,
			ErrorReason: reason,
			Network:     req.PaymentRequirements.Network,
		}, nil
	}

	resp, err := scheme.Settle(ctx, req.PaymentPayload, req.PaymentRequirements, req.RequestedAmount)
	if err != nil {
		for _, hook := range f.onSettleFailureHooks {
			result, _ := hook(SettleFailureContext{SettleContext: hookCtx, Error: err})
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return nil, err
	}

	for _, hook := range f.afterSettleHooks {
		_ = hook(SettleResultContext{SettleContext: hookCtx, Result: resp})
	}

	return resp, nil
}

func (f *Facilitator) unsupported(requirements PaymentRequirements) (*VerifyResponse, error) {
	reason := ErrUnsupportedNetwork
	if f.hasNetwork(requirements.Network) {
		reason = ErrUnsupportedScheme
	}
	return &VerifyResponse{IsValid: false, InvalidReason: reason},
		fmt.Errorf("no scheme %q registered for network %s", requirements.Scheme, requirements.Network)
}

func (f *Facilitator) hasNetwork(network Network) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for registered := range f.schemes {
		if network.Match(registered) {
			return true
		}
	}
	return false
}

// Supported returns the payment kinds this facilitator can settle.
func (f *Facilitator) Supported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kinds []SupportedKind
	for network, schemeMap := range f.schemes {
		for scheme := range schemeMap {
			kind := SupportedKind{
				X402Version: 2,
				Scheme:      scheme,
				Network:     network,
			}
			if extra := f.extras[network][scheme]; extra != nil {
				kind.Extra = extra
			}
			kinds = append(kinds, kind)
		}
	}

	return SupportedResponse{Kinds: kinds}
}
