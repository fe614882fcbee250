// Package hostapi exposes the accessories over HTTP so users can read their
// state and change power and brightness.
package hostapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbsync/internal/accessory"
)

// Accessories is the read side of the accessory host.
type Accessories interface {
	Get(uuid string) (*accessory.Accessory, bool)
	List() []*accessory.Accessory
}

// Trigger requests an immediate poll.
type Trigger interface {
	Trigger()
}

// AccessoryView is the JSON representation of an accessory.
type AccessoryView struct {
	UUID        string     `json:"uuid"`
	Name        string     `json:"name"`
	BulbID      string     `json:"bulbId"`
	GroupID     string     `json:"groupId"`
	On          bool       `json:"on"`
	Brightness  int        `json:"brightness"`
	ModeID      string     `json:"modeId"`
	Available   bool       `json:"available"`
	LastChanged *time.Time `json:"lastChanged,omitempty"`
}

// Server is the local control API.
type Server struct {
	addr        string
	accessories Accessories
	poll        Trigger
	httpServer  *http.Server
}

// NewServer creates a new API server. poll may be nil.
func NewServer(host string, port int, accessories Accessories, poll Trigger) *Server {
	return &Server{
		addr:        fmt.Sprintf("%s:%d", host, port),
		accessories: accessories,
		poll:        poll,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /accessories", s.handleList)
	mux.HandleFunc("GET /accessories/{uuid}", s.handleGet)
	mux.HandleFunc("PUT /accessories/{uuid}/power", s.handlePower)
	mux.HandleFunc("PUT /accessories/{uuid}/brightness", s.handleBrightness)
	mux.HandleFunc("POST /sync", s.handleSync)
	return mux
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting accessory API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Accessory API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list := s.accessories.List()
	views := make([]AccessoryView, 0, len(list))
	for _, a := range list {
		views = append(views, viewOf(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var body struct {
		On *bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.On == nil {
		writeError(w, http.StatusBadRequest, `expected {"on": true|false}`)
		return
	}

	log.Debug().Str("uuid", a.UUID).Bool("on", *body.On).Msg("Power change requested")
	a.Power.Set(*body.On)
	writeJSON(w, http.StatusOK, viewOf(a))
}

func (s *Server) handleBrightness(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var body struct {
		Brightness *int `json:"brightness"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Brightness == nil {
		writeError(w, http.StatusBadRequest, `expected {"brightness": 0-100}`)
		return
	}
	if *body.Brightness < 0 || *body.Brightness > 100 {
		writeError(w, http.StatusBadRequest, "brightness must be between 0 and 100")
		return
	}

	log.Debug().Str("uuid", a.UUID).Int("brightness", *body.Brightness).Msg("Brightness change requested")
	a.Brightness.Set(*body.Brightness)
	writeJSON(w, http.StatusOK, viewOf(a))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.poll == nil {
		writeError(w, http.StatusServiceUnavailable, "polling is not running")
		return
	}
	s.poll.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*accessory.Accessory, bool) {
	uuid := r.PathValue("uuid")
	a, ok := s.accessories.Get(uuid)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("accessory %q not found", uuid))
		return nil, false
	}
	return a, true
}

func viewOf(a *accessory.Accessory) AccessoryView {
	d := a.Device()
	v := AccessoryView{
		UUID:       a.UUID,
		Name:       a.Name,
		BulbID:     d.BulbID,
		GroupID:    d.GroupID,
		On:         a.Power.Value(),
		Brightness: a.Brightness.Value(),
		ModeID:     d.ModeID,
		Available:  d.IsAvailable,
	}
	if last := a.LastChanged(); !last.IsZero() {
		v.LastChanged = &last
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
