package pool

import (
	"context"
	"log"
	"net/http"
)

// ChatCaller is the provider call the executor orchestrates; satisfied by
// *upstream.Client.
type ChatCaller interface {
	ChatCompletions(ctx context.Context, accessToken, resourceURL string, body []byte, stream bool) (*http.Response, error)
}

// Result is a successful provider call. For streaming requests the body
// is the raw event stream, to be consumed by the relay.
type Result struct {
	Response  *http.Response
	AccountID string
}

// Executor runs one logical client request: pick an account, call the
// provider, and on failure apply the retry policy (at most one retry,
// possibly on a different account). The selection is per-request state;
// nothing is shared across concurrent executions.
type Executor struct {
	selector *Selector
	client   ChatCaller
	retry    *RetryCoordinator
}

func NewExecutor(selector *Selector, client ChatCaller, retry *RetryCoordinator) *Executor {
	return &Executor{selector: selector, client: client, retry: retry}
}

// Execute forwards body to the provider. Exhausting the retry budget
// surfaces the last provider error untouched; translating it into an HTTP
// response belongs to the handler layer.
func (e *Executor) Execute(ctx context.Context, body []byte, stream bool) (*Result, error) {
	sel, err := e.selector.Select(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		resp, callErr := e.client.ChatCompletions(ctx, sel.Credential.AccessToken, sel.Credential.ResourceURL, body, stream)
		if callErr == nil {
			return &Result{Response: resp, AccountID: sel.AccountID}, nil
		}

		decision := e.retry.Handle(ctx, sel.AccountID, sel.Credential, callErr, attempt)
		if !decision.Retry {
			return nil, callErr
		}

		if decision.ForceReselect {
			// The failed account is now filtered by the registry if it
			// was marked; re-run selection rather than excluding it here.
			next, selErr := e.selector.Select(ctx)
			if selErr != nil {
				log.Printf("⚠️ No alternate account for retry: %v", selErr)
				return nil, callErr
			}
			sel = next
		} else if decision.Refreshed != nil {
			sel = &Selection{AccountID: sel.AccountID, Credential: decision.Refreshed}
		}
		log.Printf("🔁 Retrying request on account %s (attempt %d)", sel.AccountID, attempt+2)
	}
}
