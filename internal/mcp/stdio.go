package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// ServeStdio reads newline-delimited JSON-RPC messages from r and writes
// responses to w, one per line. Requests run concurrently so a slow tool
// call does not block pings. It returns when r is exhausted or ctx is done.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxRequestBodySize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	write := func(resp *JSONRPCResponse) {
		b, err := json.Marshal(resp)
		if err != nil {
			s.logger.Warn("failed to encode JSON-RPC response", "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := w.Write(append(b, '\n')); err != nil {
			s.logger.Warn("failed to write JSON-RPC response", "error", err)
		}
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				wg.Wait()
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("mcp: read stdin: %w", err)
					}
				default:
				}
				return nil
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var req JSONRPCRequest
			if err := json.Unmarshal(line, &req); err != nil {
				write(errorResponse(nil, JSONRPCParseError, "invalid JSON"))
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if resp := s.Handle(ctx, req); resp != nil {
					write(resp)
				}
			}()
		}
	}
}
