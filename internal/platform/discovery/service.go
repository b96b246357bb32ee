package discovery

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/grandcat/zeroconf"
)

// mDNS service type and domain the control API is announced under.
const (
	ServiceType   = "_timelapse._tcp"
	ServiceDomain = "local."
)

// Service announces the control API on the local network.
type Service struct {
	instance string
	port     int
	txt      []string
	log      *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// New returns a stopped Service for port. An empty instance name is derived
// from the hostname.
func New(instance string, port int, log *slog.Logger, meta map[string]string) *Service {
	if instance == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "localhost"
		}
		instance = host + "-timelapse"
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{instance: instance, port: port, txt: txtRecords(meta), log: log}
}

// Start registers the service. It is a no-op when already registered.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	server, err := zeroconf.Register(s.instance, ServiceType, ServiceDomain, s.port, s.txt, nil)
	if err != nil {
		return fmt.Errorf("register %s.%s: %w", s.instance, ServiceType, err)
	}
	s.server = server
	s.log.Info("discovery started",
		slog.String("instance", s.instance),
		slog.String("type", ServiceType),
		slog.Int("port", s.port))
	return nil
}

// Stop withdraws the announcement.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return
	}
	s.server.Shutdown()
	s.server = nil
	s.log.Info("discovery stopped")
}

// Instance returns the announced instance name.
func (s *Service) Instance() string {
	return s.instance
}

// txtRecords renders meta as sorted key=value records.
func txtRecords(meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+meta[k])
	}
	return out
}
