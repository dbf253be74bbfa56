package entries

import (
	"context"
	"net/http"

	"clipsync/core"
	"clipsync/middleware"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Window is the live clipboard window the handlers read and clear.
type Window interface {
	Entries() []core.Entry
	ClearAll(ctx context.Context) error
}

func HandleList(window Window) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, window.Entries())
	}
}

func HandleClear(window Window) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logrus.WithField("remote", r.RemoteAddr)
		if claims, ok := middleware.Owner(r); ok {
			log = log.WithField("login", claims.Login)
		}

		if err := window.ClearAll(r.Context()); err != nil {
			log.WithError(err).Error("Failed to clear clipboard")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Clear failed: " + err.Error()})
			return
		}
		log.Info("Clipboard cleared")
		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}
