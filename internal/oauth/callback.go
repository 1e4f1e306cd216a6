package oauth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"
)

// callbackServer receives the authorization redirect on a loopback port.
// It only captures the redirect; state and code are checked by CompleteAuth.
type callbackServer struct {
	listener net.Listener
	server   *http.Server
	results  chan string
	errs     chan error
}

func startCallbackServer(addr string) (*callbackServer, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("starting callback server: %w", err)
	}

	cs := &callbackServer{
		listener: listener,
		results:  make(chan string, 1),
		errs:     make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", cs.handle)
	cs.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := cs.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case cs.errs <- fmt.Errorf("callback server error: %w", err):
			default:
			}
		}
	}()
	return cs, nil
}

func (cs *callbackServer) redirectURL() string {
	port := cs.listener.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("http://localhost:%d/callback", port)
}

func (cs *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errMsg := q.Get("error"); errMsg != "" {
		if desc := q.Get("error_description"); desc != "" {
			errMsg += ": " + desc
		}
		_, _ = fmt.Fprintf(w, "<html><body><h1>Authorization Failed</h1><p>%s</p><p>You can close this tab.</p></body></html>", html.EscapeString(errMsg))
	} else if q.Get("code") == "" {
		http.Error(w, "No authorization code", http.StatusBadRequest)
		return
	} else {
		_, _ = fmt.Fprint(w, "<html><body><h1>Authorization Successful</h1><p>You can close this tab and return to the terminal.</p></body></html>")
	}

	select {
	case cs.results <- cs.redirectURL() + "?" + r.URL.RawQuery:
	default:
	}
}

func (cs *callbackServer) wait(ctx context.Context) (string, error) {
	select {
	case artifact := <-cs.results:
		return artifact, nil
	case err := <-cs.errs:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (cs *callbackServer) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cs.server.Shutdown(shutdownCtx) //nolint:errcheck
}
