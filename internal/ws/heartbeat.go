package ws

import "time"

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // extra grace after the interval
}

// DefaultHeartbeatConfig returns defaults suitable for browser clients.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically pings all
// connections and evicts those with no inbound activity within
// Interval + Timeout. The goroutine exits on server shutdown.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.Done():
				return
			case <-ticker.C:
				checkConnections(server, config)
			}
		}
	}()
}

func checkConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.Connections().All() {
		if now.Sub(c.LastActivity()) > deadline {
			server.log.Debug().
				Str("conn", c.ID).
				Dur("idle", now.Sub(c.LastActivity()).Round(time.Second)).
				Msg("heartbeat timeout")
			server.RemoveConnection(c)
			continue
		}
		if err := c.WritePing(); err != nil {
			server.RemoveConnection(c)
		}
	}
}
