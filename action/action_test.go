package action

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toast struct {
	kind    string
	id      string
	message string
}

type recordingNotifier struct {
	mu     sync.Mutex
	toasts []toast
}

func (n *recordingNotifier) Loading(message string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast{"loading", "t1", message})
	return "t1"
}

func (n *recordingNotifier) Success(id, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast{"success", id, message})
}

func (n *recordingNotifier) Error(id, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast{"error", id, message})
}

func (n *recordingNotifier) kinds() []string {
	var kinds []string
	for _, t := range n.toasts {
		kinds = append(kinds, t.kind)
	}
	return kinds
}

type recordingNavigator struct {
	pushed    []string
	refreshes int
}

func (n *recordingNavigator) Push(path string) { n.pushed = append(n.pushed, path) }
func (n *recordingNavigator) Refresh()         { n.refreshes++ }

type answer bool

func (a answer) Confirm(context.Context, string) bool { return bool(a) }

func TestExecute_Success(t *testing.T) {
	notifier := &recordingNotifier{}
	nav := &recordingNavigator{}
	var got string

	a := New(func(ctx context.Context) (Result[string], error) {
		return Ok("org-1"), nil
	}, Options[string]{
		SuccessMessage: "Organization created",
		LoadingMessage: "Creating...",
		RedirectTo:     "/organizations",
		Refresh:        true,
		OnSuccess:      func(v string) { got = v },
		Notifier:       notifier,
		Navigator:      nav,
	})

	v, err := a.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "org-1", v)
	assert.Equal(t, "org-1", got)
	assert.Equal(t, []toast{{"loading", "t1", "Creating..."}, {"success", "t1", "Organization created"}}, notifier.toasts)
	assert.Equal(t, []string{"/organizations"}, nav.pushed)
	assert.Equal(t, 1, nav.refreshes)
	assert.False(t, a.Loading())
}

func TestExecute_EmbeddedErrorIsFailure(t *testing.T) {
	notifier := &recordingNotifier{}
	nav := &recordingNavigator{}
	var onErr error
	successCalled := false

	a := New(func(ctx context.Context) (Result[struct{}], error) {
		return Fail[struct{}](&ResultError{Message: "Already a member"}), nil
	}, Options[struct{}]{
		SuccessMessage: "Invitation sent",
		RedirectTo:     "/organizations",
		OnSuccess:      func(struct{}) { successCalled = true },
		OnError:        func(err error) { onErr = err },
		Notifier:       notifier,
		Navigator:      nav,
	})

	_, err := a.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Already a member", err.Error())
	assert.Equal(t, err, onErr)
	assert.False(t, successCalled)
	assert.Empty(t, nav.pushed)
	assert.Equal(t, []string{"loading", "error"}, notifier.kinds())
	assert.Equal(t, "Already a member", notifier.toasts[1].message)

	var resultErr *ResultError
	assert.True(t, errors.As(err, &resultErr))
}

func TestExecute_ErrorMessageOrder(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		extractor func(error) string
		fallback  string
		want      string
	}{
		{"extractor_wins", errors.New("raw"), func(error) string { return "extracted" }, "configured", "extracted"},
		{"extractor_empty", errors.New("raw"), func(error) string { return "" }, "configured", "raw"},
		{"error_message", errors.New("raw"), nil, "configured", "raw"},
		{"status_text", &ResultError{StatusText: "Forbidden"}, nil, "configured", "Forbidden"},
		{"configured", &ResultError{}, nil, "configured", "configured"},
		{"generic", &ResultError{}, nil, "", "Something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			a := New(func(ctx context.Context) (Result[int], error) {
				return Result[int]{}, tt.err
			}, Options[int]{
				ErrorMessage:        tt.fallback,
				ExtractErrorMessage: tt.extractor,
				Notifier:            notifier,
			})

			_, err := a.Execute(context.Background())
			assert.Equal(t, tt.err, err, "error must be re-raised unchanged")
			require.Len(t, notifier.toasts, 2)
			assert.Equal(t, toast{"error", "t1", tt.want}, notifier.toasts[1])
		})
	}
}

func TestExecute_ConfirmationDeclined(t *testing.T) {
	tests := []struct {
		name      string
		confirmer Confirmer
	}{
		{"declined", answer(false)},
		{"no_confirmer", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			called := false
			a := New(func(ctx context.Context) (Result[int], error) {
				called = true
				return Ok(1), nil
			}, Options[int]{ConfirmMessage: "Delete this user?", Confirmer: tt.confirmer, Notifier: notifier})

			_, err := a.Execute(context.Background())
			assert.ErrorIs(t, err, ErrCancelled)
			assert.False(t, called)
			assert.Empty(t, notifier.toasts)
		})
	}
}

func TestExecute_ConfirmationAccepted(t *testing.T) {
	a := New(func(ctx context.Context) (Result[int], error) {
		return Ok(7), nil
	}, Options[int]{ConfirmMessage: "Sure?", Confirmer: answer(true)})

	v, err := a.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestExecute_SingleInFlight(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	a := New(func(ctx context.Context) (Result[int], error) {
		calls.Add(1)
		close(started)
		<-release
		return Ok(1), nil
	}, Options[int]{})

	done := make(chan error, 1)
	go func() {
		_, err := a.Execute(context.Background())
		done <- err
	}()
	<-started
	assert.True(t, a.Loading())

	var wg sync.WaitGroup
	var rejected atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Execute(context.Background()); errors.Is(err, ErrInProgress) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(10), rejected.Load())
	assert.False(t, a.Loading())
}

func TestResult(t *testing.T) {
	v, err := Ok(3).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	r := FailStatus[int](403, "Only owners can cancel subscriptions")
	assert.True(t, r.Failed())
	_, err = r.Unwrap()
	assert.EqualError(t, err, "Only owners can cancel subscriptions")
	assert.Equal(t, "Forbidden", r.Error.StatusText)

	assert.True(t, Fail[int](nil).Failed())
}

func TestTerminalCollaborators(t *testing.T) {
	var out bytes.Buffer
	confirmer := &PromptConfirmer{In: strings.NewReader("yes\n"), Out: &out}
	assert.True(t, confirmer.Confirm(context.Background(), "Ban user?"))
	assert.Contains(t, out.String(), "Ban user? [y/N]")

	assert.False(t, (&PromptConfirmer{In: strings.NewReader("\n"), Out: &out}).Confirm(context.Background(), "Ban?"))
	assert.True(t, (&PromptConfirmer{Assume: true}).Confirm(context.Background(), "Ban?"))

	out.Reset()
	notifier := &TextNotifier{W: &out}
	a := New(func(ctx context.Context) (Result[int], error) {
		return Ok(1), nil
	}, Options[int]{SuccessMessage: "Done", RedirectTo: "/profile", Notifier: notifier, Navigator: PrintNavigator{W: &out}})
	_, err := a.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "… Processing...\n✓ Done\n→ /profile\n", out.String())
}
