package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofrs/uuid/v5"

	"github.com/velvet-oracle/ritual/src/domain/shared"
	"github.com/velvet-oracle/ritual/src/infra/telegram"
)

type contextKey string

const (
	correlationKey contextKey = "correlation_id"
	initDataKey    contextKey = "init_data"
)

var errIdentityMismatch = errors.New("telegram_user_id does not match the signed init data")

func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = generateCorrelationID()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), correlationKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateCorrelationID() string {
	return uuid.Must(uuid.NewV4()).String()
}

func correlationIDFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(correlationKey).(string); ok {
		return value
	}
	return ""
}

// initDataMiddleware verifies the Telegram launch signature when a verifier
// is configured and stores the signed payload on the request context.
func (s *Server) initDataMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		data, err := s.cfg.Verifier.Verify(r.Header.Get(telegram.HeaderInitData))
		if err != nil {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid_init_data", Message: err.Error()})
			return
		}
		ctx := context.WithValue(r.Context(), initDataKey, data)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize checks that the body identity matches the signed one, if any.
func authorize(ctx context.Context, externalID shared.ExternalID) error {
	data, ok := ctx.Value(initDataKey).(*telegram.InitData)
	if !ok {
		return nil
	}
	if data.User.ExternalID() != externalID {
		return errIdentityMismatch
	}
	return nil
}
