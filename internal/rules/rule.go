package rules

import (
	"context"
	"time"

	"github.com/shaiso/Maestro/internal/domain"
)

// AnyState — wildcard в декларации применимости правила.
const AnyState domain.StateType = "*"

// Transition — пара (from, to) типов состояний.
type Transition struct {
	From domain.StateType
	To   domain.StateType
}

// Matches проверяет, покрывает ли декларация конкретный переход.
func (t Transition) Matches(from, to domain.StateType) bool {
	return (t.From == AnyState || t.From == from) &&
		(t.To == AnyState || t.To == to)
}

// Outcome — вид решения правила.
type Outcome int

const (
	// OutcomeAllow — переход разрешён без изменений.
	OutcomeAllow Outcome = iota

	// OutcomeRewrite — предложенное состояние переписано.
	OutcomeRewrite

	// OutcomeVeto — переход отклонён.
	OutcomeVeto

	// OutcomeWait — переход валиден, но отложен (нет ресурса).
	OutcomeWait
)

// Decision — решение правила по предложенному переходу.
type Decision struct {
	Outcome Outcome

	// RuleName — имя правила, принявшего решение.
	RuleName string

	// Rewritten — новое предложенное состояние (для OutcomeRewrite).
	Rewritten *domain.State

	// Reason — причина отказа (для OutcomeVeto).
	Reason string

	// RetryAfter — подсказка, через сколько повторить (для OutcomeWait).
	RetryAfter time.Duration
}

// Allow — переход разрешён.
func Allow() Decision {
	return Decision{Outcome: OutcomeAllow}
}

// Rewrite — предложение переписано.
func Rewrite(rule string, state *domain.State) Decision {
	return Decision{Outcome: OutcomeRewrite, RuleName: rule, Rewritten: state}
}

// Veto — переход отклонён.
func Veto(rule, reason string) Decision {
	return Decision{Outcome: OutcomeVeto, RuleName: rule, Reason: reason}
}

// Wait — переход отложен.
func Wait(rule string, retryAfter time.Duration) Decision {
	return Decision{Outcome: OutcomeWait, RuleName: rule, RetryAfter: retryAfter}
}

// Context — оркестрационный контекст одного предложенного перехода.
//
// Живёт от загрузки run под lease до коммита (или отказа).
// Data — side-channel для обмена данными между правилами в рамках
// одного pipeline (например, пометка cache hit).
type Context struct {
	// Run — run, для которого предложен переход.
	Run *domain.Run

	// Current — текущее зафиксированное состояние.
	Current *domain.State

	// Proposed — предложенное состояние (может быть переписано правилами).
	Proposed *domain.State

	// Committed — итоговое зафиксированное состояние (после коммита).
	Committed *domain.State

	// RunModified — правило изменило поля Run (attempt), требуется сохранить.
	RunModified bool

	// Data — side-channel данных правил.
	Data map[string]any
}

// NewContext создаёт контекст для предложенного перехода.
func NewContext(run *domain.Run, current, proposed *domain.State) *Context {
	return &Context{
		Run:      run,
		Current:  current,
		Proposed: proposed,
		Data:     make(map[string]any),
	}
}

// Rule — подключаемая политика переходов.
//
// Applicability фильтруется engine'ом явно: Apply вызывается только
// для переходов, покрытых AppliesTo.
type Rule interface {
	// Name — имя правила для логов и причин отказа.
	Name() string

	// AppliesTo — декларация регулируемых переходов.
	AppliesTo() []Transition

	// Apply выполняет правило для применимого перехода.
	Apply(ctx context.Context, oc *Context) Decision
}

// Applicable проверяет применимость правила к переходу (from, to).
func Applicable(r Rule, from, to domain.StateType) bool {
	for _, t := range r.AppliesTo() {
		if t.Matches(from, to) {
			return true
		}
	}
	return false
}
