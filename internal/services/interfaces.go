package services

import (
	"context"
	"time"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/registration"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CartLineItem      = domain.CartLineItem
	CartCandidate     = domain.CartCandidate
	CartSnapshot      = domain.CartSnapshot
	ChangeMarker      = domain.ChangeMarker
	ChangeEvent       = domain.ChangeEvent
	Feedback          = domain.Feedback
	FormFieldSnapshot = domain.FormFieldSnapshot
	Toast             = domain.Toast
)

// CartService reads and grows the shopper's cart collection.
type CartService interface {
	GetCart(ctx context.Context, namespace string) (CartSnapshot, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (AddCartItemResult, error)
}

// AddCartItemCommand carries a candidate for the cart of Namespace.
type AddCartItemCommand struct {
	Namespace string
	Candidate CartCandidate
}

// AddCartItemResult is the persisted collection after an add, with the affected line.
type AddCartItemResult struct {
	Cart   CartSnapshot
	Item   CartLineItem
	Merged bool
	Toast  Toast
}

// CartWatcher lets an observer wait for another context's cart writes.
type CartWatcher interface {
	Wait(ctx context.Context, namespace string, since ChangeMarker, timeout time.Duration) (CartChange, error)
}

// CartChange reports whether the marker moved away from the one the observer held.
type CartChange struct {
	Changed bool
	Marker  ChangeMarker
}

// FormSubmissionService validates and settles contact and registration submissions.
type FormSubmissionService interface {
	SubmitContact(ctx context.Context, namespace string, fields FormFieldSnapshot) SubmissionResult
	SubmitRegistration(ctx context.Context, namespace string, fields FormFieldSnapshot) SubmissionResult
	Feedback(namespace string, form domain.FormKind) (Feedback, bool)
	Wait()
}

// SubmissionResult is what the caller sees synchronously. Settled delivers exactly one
// settled feedback for the attempt and is then closed; it is already filled when the
// attempt settled without remote work. Path lists every state the attempt passed
// through, ending with State.
type SubmissionResult struct {
	State    domain.SubmissionState
	Path     []domain.SubmissionState
	Verdict  domain.ValidationVerdict
	Feedback Feedback
	Settled  <-chan Feedback
}

// Settle moves a pending result to its settled feedback.
func (r SubmissionResult) Settle(feedback Feedback) SubmissionResult {
	if r.State == domain.SubmissionSettled || !feedback.Settled() {
		return r
	}
	r.Path = append(append([]domain.SubmissionState(nil), r.Path...), domain.SubmissionSettled)
	r.State = domain.SubmissionSettled
	r.Feedback = feedback
	return r
}

// SearchService turns the search box input into toast feedback.
type SearchService interface {
	Query(raw string) SearchResult
}

// SearchResult is the outcome of one search box submission.
type SearchResult struct {
	Query    string
	Accepted bool
	Toast    Toast
}

// RegistrationClient is the remote registration dependency.
type RegistrationClient interface {
	Register(ctx context.Context, req domain.RegistrationRequest) (registration.Result, error)
	Port() string
}

// ChangePublisher announces cart writes to other observers.
type ChangePublisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// ChangeSubscriber delivers change events for one namespace until cancel is called.
type ChangeSubscriber interface {
	Subscribe(namespace string) (<-chan ChangeEvent, func())
}

// CartMetrics records cart outcomes.
type CartMetrics interface {
	CartItemAdded(merged bool)
	CartWriteConflict()
}

// FormMetrics records submission outcomes.
type FormMetrics interface {
	FormSubmission(form, outcome string)
}
