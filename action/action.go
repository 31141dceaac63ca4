package action

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Errors
var (
	ErrInProgress = errors.New("action already in progress")
	ErrCancelled  = errors.New("action cancelled by user")
)

const (
	defaultLoadingMessage = "Processing..."
	defaultSuccessMessage = "Success"
	fallbackErrorMessage  = "Something went wrong"
)

// Operation is the work an Action runs. A raised error and a failed Result
// are handled the same way.
type Operation[T any] func(ctx context.Context) (Result[T], error)

// Notifier shows progress feedback. Success and Error replace the loading
// indicator identified by id.
type Notifier interface {
	Loading(message string) (id string)
	Success(id, message string)
	Error(id, message string)
}

// Confirmer asks the user to confirm a message.
type Confirmer interface {
	Confirm(ctx context.Context, message string) bool
}

// Navigator moves the user after a successful action.
type Navigator interface {
	Push(path string)
	Refresh()
}

// Options configures an Action.
type Options[T any] struct {
	SuccessMessage string
	ErrorMessage   string
	LoadingMessage string
	ConfirmMessage string
	RedirectTo     string
	Refresh        bool

	// ExtractErrorMessage derives the error toast from a failure. An empty
	// return falls through to the error's own message.
	ExtractErrorMessage func(err error) string
	OnSuccess           func(data T)
	OnError             func(err error)

	Notifier Notifier
	// Confirmer answers ConfirmMessage. Without one, confirmation is declined.
	Confirmer Confirmer
	Navigator Navigator
}

// Action runs an Operation at most once at a time.
type Action[T any] struct {
	op       Operation[T]
	opts     Options[T]
	inFlight atomic.Bool
}

// New creates an Action for op.
func New[T any](op Operation[T], opts Options[T]) *Action[T] {
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Navigator == nil {
		opts.Navigator = nopNavigator{}
	}
	return &Action[T]{op: op, opts: opts}
}

// Loading reports whether an invocation is in flight.
func (a *Action[T]) Loading() bool {
	return a.inFlight.Load()
}

// Execute runs the operation. It returns ErrInProgress without calling the
// operation while another invocation is in flight, and ErrCancelled when the
// user declines the confirmation.
func (a *Action[T]) Execute(ctx context.Context) (T, error) {
	var zero T
	if !a.inFlight.CompareAndSwap(false, true) {
		return zero, ErrInProgress
	}
	defer a.inFlight.Store(false)

	if a.opts.ConfirmMessage != "" {
		if a.opts.Confirmer == nil || !a.opts.Confirmer.Confirm(ctx, a.opts.ConfirmMessage) {
			return zero, ErrCancelled
		}
	}

	id := a.opts.Notifier.Loading(cmp.Or(a.opts.LoadingMessage, defaultLoadingMessage))

	result, err := a.op(ctx)
	if err == nil && result.Error != nil {
		err = result.Error
	}
	if err != nil {
		return zero, a.fail(id, err)
	}

	a.opts.Notifier.Success(id, cmp.Or(a.opts.SuccessMessage, defaultSuccessMessage))
	if a.opts.OnSuccess != nil {
		a.opts.OnSuccess(result.Data)
	}
	if a.opts.RedirectTo != "" {
		a.opts.Navigator.Push(a.opts.RedirectTo)
	}
	if a.opts.Refresh {
		a.opts.Navigator.Refresh()
	}
	return result.Data, nil
}

func (a *Action[T]) fail(id string, err error) error {
	var extracted string
	if a.opts.ExtractErrorMessage != nil {
		extracted = a.opts.ExtractErrorMessage(err)
	}
	message := cmp.Or(extracted, err.Error(), a.opts.ErrorMessage, fallbackErrorMessage)

	slog.Debug("Action failed", "message", message, "error", err)
	a.opts.Notifier.Error(id, message)
	if a.opts.OnError != nil {
		a.opts.OnError(err)
	}
	return err
}

type nopNotifier struct{}

func (nopNotifier) Loading(string) string  { return "" }
func (nopNotifier) Success(string, string) {}
func (nopNotifier) Error(string, string)   {}

type nopNavigator struct{}

func (nopNavigator) Push(string) {}
func (nopNavigator) Refresh()    {}
