package settlement

import "context"

// Lifecycle hooks let callers observe and intervene in verify and settle
// without touching the validation pipeline itself. Before-hooks may abort;
// failure-hooks may recover with a substitute result; after-hooks are
// observational and their errors are ignored.

// VerifyContext is passed to verify hooks.
type VerifyContext struct {
	Ctx     context.Context
	Request VerifyRequest
}

// VerifyResultContext is passed to after-verify hooks.
type VerifyResultContext struct {
	VerifyContext
	Result *VerifyResponse
}

// VerifyFailureContext is passed to verify failure hooks.
type VerifyFailureContext struct {
	VerifyContext
	Error error
}

// SettleContext is passed to settle hooks.
type SettleContext struct {
	Ctx     context.Context
	Request SettleRequest
}

// SettleResultContext is passed to after-settle hooks.
type SettleResultContext struct {
	SettleContext
	Result *SettleResponse
}

// SettleFailureContext is passed to settle failure hooks.
type SettleFailureContext struct {
	SettleContext
	Error error
}

// HookDecision is returned by before-hooks. A nil decision means proceed.
type HookDecision struct {
	Abort  bool
	Reason string
}

// VerifyRecovery is returned by verify failure hooks to substitute a result.
type VerifyRecovery struct {
	Recovered bool
	Result    *VerifyResponse
}

// SettleRecovery is returned by settle failure hooks to substitute a result.
type SettleRecovery struct {
	Recovered bool
	Result    *SettleResponse
}

type (
	BeforeVerifyHook    func(VerifyContext) (*HookDecision, error)
	AfterVerifyHook     func(VerifyResultContext) error
	OnVerifyFailureHook func(VerifyFailureContext) (*VerifyRecovery, error)
	BeforeSettleHook    func(SettleContext) (*HookDecision, error)
	AfterSettleHook     func(SettleResultContext) error
	OnSettleFailureHook func(SettleFailureContext) (*SettleRecovery, error)
)

func (f *Facilitator) OnBeforeVerify(hook BeforeVerifyHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *Facilitator) OnAfterVerify(hook AfterVerifyHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *Facilitator) OnVerifyFailure(hook OnVerifyFailureHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *Facilitator) OnBeforeSettle(hook BeforeSettleHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *Facilitator) OnAfterSettle(hook AfterSettleHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *Facilitator) OnSettleFailure(hook OnSettleFailureHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}
