package api

import (
	"fmt"
	"net/http"

	"github.com/dyluth/lodge/pkg/packet"
)

// stream writes packets as NDJSON lines.
type stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newStream(w http.ResponseWriter) *stream {
	flusher, _ := w.(http.Flusher)
	return &stream{w: w, flusher: flusher}
}

func (s *stream) write(p packet.Packet) error {
	data, err := packet.Marshal(p)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
