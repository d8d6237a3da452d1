package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_tracker/internal/activitylog"
	"github.com/relabs-tech/motion_tracker/internal/bus"
	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/motion"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other hosts on the LAN
	},
}

const (
	defaultActivityLimit = 20
	wsWriteTimeout       = 10 * time.Second
)

// ActivityStore lists recently logged sessions, newest first.
type ActivityStore interface {
	Recent(ctx context.Context, n int) ([]motion.ActivityRecord, error)
}

// Event is one websocket message.
type Event struct {
	Type string `json:"type"` // "snapshot" or "activity"
	Data any    `json:"data"`
}

// WebServer serves the latest engine state over HTTP and streams updates
// to websocket clients.
type WebServer struct {
	hub      *Hub
	store    ActivityStore
	gatherer prometheus.Gatherer
	messages *prometheus.CounterVec
	log      *logrus.Entry

	mu   sync.RWMutex
	last motion.Snapshot
	have bool
}

// NewWebServer registers its collectors on reg. store may be nil when no
// Redis is configured.
func NewWebServer(store ActivityStore, reg *prometheus.Registry) *WebServer {
	s := &WebServer{
		hub:      NewHub(),
		store:    store,
		gatherer: reg,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "motion",
			Subsystem: "web",
			Name:      "messages_total",
			Help:      "MQTT messages received by kind (snapshot, activity)",
		}, []string{"kind"}),
		log: logrus.WithField("component", "web"),
	}
	clients := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "motion",
		Subsystem: "web",
		Name:      "websocket_clients",
		Help:      "Connected websocket clients",
	}, func() float64 { return float64(s.hub.Len()) })
	reg.MustRegister(s.messages, clients)
	return s
}

// UpdateSnapshot records the latest engine state and pushes it to clients.
func (s *WebServer) UpdateSnapshot(snap motion.Snapshot) {
	s.messages.WithLabelValues("snapshot").Inc()
	s.mu.Lock()
	s.last = snap
	s.have = true
	s.mu.Unlock()
	s.broadcast(Event{Type: "snapshot", Data: snap})
}

// PublishActivity pushes a newly logged session to clients.
func (s *WebServer) PublishActivity(rec motion.ActivityRecord) {
	s.messages.WithLabelValues("activity").Inc()
	s.broadcast(Event{Type: "activity", Data: rec})
}

func (s *WebServer) broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.WithError(err).Warn("event marshal error")
		return
	}
	s.hub.Broadcast(payload)
}

func (s *WebServer) latest() (motion.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.have
}

// Router returns the HTTP routes.
func (s *WebServer) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/motion", s.handleMotion).Methods("GET")
	r.HandleFunc("/api/activities", s.handleActivities).Methods("GET")
	r.HandleFunc("/ws", s.handleWS).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	return r
}

func (s *WebServer) handleMotion(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap)
}

func (s *WebServer) handleActivities(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "activity store not configured", http.StatusServiceUnavailable)
		return
	}
	limit := defaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > activitylog.DefaultKeep {
			http.Error(w, fmt.Sprintf("limit must be 1..%d", activitylog.DefaultKeep), http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("activity store read failed")
		http.Error(w, "activity store unavailable", http.StatusBadGateway)
		return
	}
	if recs == nil {
		recs = []motion.ActivityRecord{}
	}
	writeJSON(w, recs)
}

func (s *WebServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade error")
		return
	}
	defer conn.Close()

	client := s.hub.Register()
	defer s.hub.Unregister(client)

	if snap, ok := s.latest(); ok {
		if err := conn.WriteJSON(Event{Type: "snapshot", Data: snap}); err != nil {
			return
		}
	}

	// The read loop only notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.WithError(err).Debug("websocket read error")
				}
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithField("component", "web").WithError(err).Warn("json encode error")
	}
}

// RunWeb serves the dashboard API until ctx is cancelled.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()
	log := logrus.WithField("component", "web")

	client, err := bus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer bus.Disconnect(client)

	var store ActivityStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		store = activitylog.NewRedisLogger(rdb, cfg.RedisActivityKey)
	}

	reg := prometheus.NewRegistry()
	srv := NewWebServer(store, reg)

	if err := bus.SubscribeJSON(client, cfg.TopicMotionState, srv.UpdateSnapshot); err != nil {
		return err
	}
	if err := bus.SubscribeJSON(client, cfg.TopicActivity, srv.PublishActivity); err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	log.Infof("web server listening on %s", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
