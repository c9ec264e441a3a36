package login

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/gorilla/mux"
	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/logging"
	"session-keeper/internal/middleware"
)

// fragmentPage forwards tokens delivered in the URL fragment, which browsers
// never send to the server, back to /callback as a query string.
const fragmentPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Signing in</title></head>
<body><p>Completing sign-in&hellip;</p>
<script>
if (location.hash.length > 1) {
  location.replace(location.pathname + "?" + location.hash.substring(1));
} else {
  document.body.textContent = "Sign-in callback carried no tokens.";
}
</script></body></html>`

const completePage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Signed in</title></head>
<body><p>Signed in. You can close this window.</p></body></html>`

// Handlers serves the login callback API.
type Handlers struct {
	controller *Controller
	logger     logging.Logger
	health     func(ctx context.Context) error
}

// NewHandlers creates handlers for controller.
func NewHandlers(controller *Controller, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "login_http"})
	}
	return &Handlers{controller: controller, logger: logger}
}

// WithHealthCheck makes /health report 503 while check fails.
func (h *Handlers) WithHealthCheck(check func(ctx context.Context) error) *Handlers {
	h.health = check
	return h
}

// Router returns the routes with logging and panic recovery.
func (h *Handlers) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recover(h.logger))
	router.Use(middleware.Logging(h.logger))

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/login", h.HandleLogin).Methods("GET")
	router.HandleFunc("/callback", h.HandleCallback).Methods("GET")
	router.HandleFunc("/status", h.GetStatus).Methods("GET")
	router.HandleFunc("/logout", h.HandleLogout).Methods("POST")
	return router
}

// HealthCheck reports whether the server and its session store are up
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("Health check failed", logging.Err(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLogin redirects the browser to the sign-in page
// @Summary Start login
// @Tags login
// @Success 302 {string} string "Redirect to the sign-in page"
// @Failure 500 {object} errorResponse
// @Router /login [get]
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	_, signInURL, err := h.controller.BeginLogin()
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, signInURL, http.StatusFound)
}

// HandleCallback completes a login from the sign-in redirect
// @Summary Login callback
// @Tags login
// @Param accessToken query string true "User session access token"
// @Param refreshToken query string true "User session refresh token"
// @Produce html
// @Success 200 {string} string "Login complete"
// @Failure 400 {object} errorResponse
// @Router /callback [get]
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.RawQuery == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(fragmentPage))
		return
	}

	if err := h.controller.HandleCallback(r.Context(), r.URL.RequestURI()); err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(completePage))
}

// GetStatus returns the login state
// @Summary Login status
// @Tags login
// @Produce json
// @Success 200 {object} Status
// @Router /status [get]
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

// HandleLogout signs out and clears the stored session
// @Summary Logout
// @Tags login
// @Produce json
// @Success 200 {object} Status
// @Failure 500 {object} errorResponse
// @Router /logout [post]
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Logout(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Status())
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		status = http.StatusBadRequest
	case errors.ErrTypeAuth:
		status = http.StatusUnauthorized
	case errors.ErrTypeUnavailable, errors.ErrTypeConnection:
		status = http.StatusServiceUnavailable
	}

	message := err.Error()
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Login request failed", err)
	}
	writeJSON(w, status, errorResponse{Error: message, Type: string(errors.GetType(err))})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
