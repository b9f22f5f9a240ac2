package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds connection parameters for a Redis-compatible server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds each dial. Zero uses a 3s default.
	Timeout time.Duration
}

// Redis speaks RESP directly over a TCP connection; no client library.
// Connections are short-lived, one per operation, which keeps the client
// trivially safe for concurrent use across worker goroutines.
type Redis struct {
	cfg RedisConfig
}

// NewRedis constructs a broker backed by a Redis-compatible server.
func NewRedis(cfg RedisConfig) *Redis {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Redis{cfg: cfg}
}

func (r *Redis) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	conn, rw, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	args := []string{"SET", key, string(b)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if err := writeRESP(rw, args...); err != nil {
		return err
	}
	_, err = readRESP(rw)
	return err
}

func (r *Redis) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	conn, rw, err := r.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	if err := writeRESP(rw, "GET", key); err != nil {
		return false, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return false, err
	}
	if resp == nil {
		return false, nil
	}
	raw, ok := resp.(string)
	if !ok {
		return false, errors.New("unexpected redis response type")
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	conn, rw, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := writeRESP(rw, append([]string{"DEL"}, keys...)...); err != nil {
		return err
	}
	_, err = readRESP(rw)
	return err
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	conn, rw, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := writeRESP(rw, "KEYS", pattern); err != nil {
		return nil, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return nil, err
	}
	return toStringArray(resp)
}

func (r *Redis) RPush(ctx context.Context, list string, vals ...string) error {
	if len(vals) == 0 {
		return nil
	}
	conn, rw, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := writeRESP(rw, append([]string{"RPUSH", list}, vals...)...); err != nil {
		return err
	}
	_, err = readRESP(rw)
	return err
}

func (r *Redis) LPop(ctx context.Context, list string) (string, bool, error) {
	conn, rw, err := r.connect(ctx)
	if err != nil {
		return "", false, err
	}
	defer conn.Close()
	if err := writeRESP(rw, "LPOP", list); err != nil {
		return "", false, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return "", false, err
	}
	if resp == nil {
		return "", false, nil
	}
	s, ok := resp.(string)
	if !ok {
		return "", false, errors.New("unexpected redis response type")
	}
	return s, true, nil
}

func (r *Redis) LRem(ctx context.Context, list, val string) (int, error) {
	conn, rw, err := r.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if err := writeRESP(rw, "LREM", list, "1", val); err != nil {
		return 0, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return 0, err
	}
	return atoiRESP(resp)
}

func (r *Redis) Close() error { return nil }

func (r *Redis) connect(ctx context.Context) (net.Conn, *bufio.ReadWriter, error) {
	dialer := net.Dialer{Timeout: r.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.Addr)
	if err != nil {
		return nil, nil, err
	}
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	if r.cfg.Password != "" {
		if err := roundTrip(rw, "AUTH", r.cfg.Password); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
	}
	if r.cfg.DB > 0 {
		if err := roundTrip(rw, "SELECT", strconv.Itoa(r.cfg.DB)); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
	}
	return conn, rw, nil
}

func roundTrip(rw *bufio.ReadWriter, parts ...string) error {
	if err := writeRESP(rw, parts...); err != nil {
		return err
	}
	_, err := readRESP(rw)
	return err
}

func writeRESP(rw *bufio.ReadWriter, parts ...string) error {
	if _, err := fmt.Fprintf(rw, "*%d\r\n", len(parts)); err != nil {
		return err
	}
	for _, p := range parts {
		if _, err := fmt.Fprintf(rw, "$%d\r\n%s\r\n", len(p), p); err != nil {
			return err
		}
	}
	return rw.Flush()
}

func readRESP(rw *bufio.ReadWriter) (any, error) {
	prefix, err := rw.ReadByte()
	if err != nil {
		return nil, err
	}
	line, err := rw.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

	switch prefix {
	case '+', ':':
		return line, nil
	case '-':
		return nil, fmt.Errorf("redis error: %s", line)
	case '$':
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if n == -1 {
			return nil, nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(rw, buf); err != nil {
			return nil, err
		}
		return string(buf[:n]), nil
	case '*':
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if n == -1 {
			return nil, nil
		}
		arr := make([]string, 0, n)
		for i := 0; i < n; i++ {
			v, err := readRESP(rw)
			if err != nil {
				return nil, err
			}
			if v == nil {
				arr = append(arr, "")
				continue
			}
			s, ok := v.(string)
			if !ok {
				return nil, errors.New("unexpected redis array element")
			}
			arr = append(arr, s)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported redis response prefix %q", prefix)
	}
}

func toStringArray(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]string)
	if !ok {
		return nil, errors.New("unexpected redis array response type")
	}
	return arr, nil
}

func atoiRESP(v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("unexpected redis integer response type")
	}
	return strconv.Atoi(s)
}
