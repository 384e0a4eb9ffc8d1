package remote

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// DefaultRequestsPerHour is the default rate limit, per client address.
const DefaultRequestsPerHour = 60

type (
	// Server implements http.Handler, serving PathImport (POST, receiving a dump) and PathExport (GET, streaming
	// a dump). All requests require the bearer Token, and are rate limited per client address.
	Server struct {
		// Limiter is optional, see NewLimiter.
		Limiter *catrate.Limiter
		Logger  *logiface.Logger[logiface.Event]
		// Export writes a fresh dump, for PathExport, which is unavailable if nil.
		Export func(ctx context.Context, w io.Writer) error
		// OnReceive is optional, and is called with the path of each stored upload, prior to responding.
		OnReceive func(ctx context.Context, name string) error
		// Token is required.
		Token string
		// Dir is where uploads are stored, and is required for PathImport.
		Dir string
		// MaxBytes limits the size of uploads, if positive.
		MaxBytes int64
	}
)

var _ http.Handler = (*Server)(nil)

// NewLimiter returns a limiter allowing perHour requests per client, in any hour.
func NewLimiter(perHour int) *catrate.Limiter {
	if perHour <= 0 {
		perHour = DefaultRequestsPerHour
	}
	return catrate.NewLimiter(map[time.Duration]int{time.Hour: perHour})
}

func (x *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if x.Token == `` {
		x.Logger.Err().Log(`remote server has no token configured`)
		http.Error(w, `server misconfigured`, http.StatusInternalServerError)
		return
	}

	if !x.authorized(r) {
		x.Logger.Warning().
			Str(`remote_addr`, r.RemoteAddr).
			Str(`path`, r.URL.Path).
			Log(`unauthorized request`)
		w.Header().Set(`WWW-Authenticate`, `Bearer`)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if next, ok := x.Limiter.Allow(clientAddr(r)); !ok {
		retryAfter := int64(math.Ceil(time.Until(next).Seconds()))
		x.Logger.Warning().
			Str(`remote_addr`, r.RemoteAddr).
			Int64(`retry_after`, retryAfter).
			Log(`rate limited`)
		w.Header().Set(`Retry-After`, strconv.FormatInt(max(retryAfter, 1), 10))
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	switch r.URL.Path {
	case PathImport:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		x.serveImport(w, r)
	case PathExport:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		x.serveExport(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (x *Server) serveImport(w http.ResponseWriter, r *http.Request) {
	if x.Dir == `` {
		http.Error(w, `import unavailable`, http.StatusNotImplemented)
		return
	}

	body := r.Body
	if x.MaxBytes > 0 {
		body = http.MaxBytesReader(w, body, x.MaxBytes)
	}

	ack, err := x.store(body)
	if err != nil {
		if v := (*http.MaxBytesError)(nil); errors.As(err, &v) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		x.Logger.Err().
			Err(err).
			Str(`remote_addr`, r.RemoteAddr).
			Log(`failed to store upload`)
		http.Error(w, `failed to store upload`, http.StatusInternalServerError)
		return
	}

	x.Logger.Info().
		Str(`remote_addr`, r.RemoteAddr).
		Str(`name`, ack.Name).
		Int64(`bytes`, ack.Bytes).
		Log(`received upload`)

	if x.OnReceive != nil {
		if err := x.OnReceive(r.Context(), filepath.Join(x.Dir, ack.Name)); err != nil {
			x.Logger.Err().
				Err(err).
				Str(`name`, ack.Name).
				Log(`failed to process upload`)
			http.Error(w, fmt.Sprintf(`failed to process upload: %v`, err), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set(`Content-Type`, `application/json`)
	_ = json.NewEncoder(w).Encode(ack)
}

// store writes body to a new file in Dir, which is renamed into place once complete
func (x *Server) store(body io.Reader) (*Ack, error) {
	if err := os.MkdirAll(x.Dir, 0o750); err != nil {
		return nil, err
	}

	file, err := os.CreateTemp(x.Dir, `upload-*.incomplete`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
		_ = os.Remove(file.Name())
	}()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(file, hash), body)
	if err != nil {
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}

	ack := Ack{
		Name:   uuid.NewString() + `.sql`,
		SHA256: hex.EncodeToString(hash.Sum(nil)),
		Bytes:  n,
	}
	if err := os.Rename(file.Name(), filepath.Join(x.Dir, ack.Name)); err != nil {
		return nil, err
	}

	return &ack, nil
}

func (x *Server) serveExport(w http.ResponseWriter, r *http.Request) {
	if x.Export == nil {
		http.Error(w, `export unavailable`, http.StatusNotImplemented)
		return
	}

	w.Header().Set(`Content-Type`, ContentTypeSQL)
	cw := countingResponseWriter{w: w}
	if err := x.Export(r.Context(), &cw); err != nil {
		x.Logger.Err().
			Err(err).
			Str(`remote_addr`, r.RemoteAddr).
			Int64(`bytes`, cw.n).
			Log(`export failed`)
		if cw.n == 0 {
			w.Header().Del(`Content-Type`)
			http.Error(w, `export failed`, http.StatusInternalServerError)
			return
		}
		// the response can't be marked as failed, and must not look complete
		panic(http.ErrAbortHandler)
	}

	x.Logger.Info().
		Str(`remote_addr`, r.RemoteAddr).
		Int64(`bytes`, cw.n).
		Log(`sent export`)
}

func (x *Server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get(`Authorization`), `Bearer `)
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(x.Token)) == 1
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set(`Allow`, allow)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

type countingResponseWriter struct {
	w http.ResponseWriter
	n int64
}

func (x *countingResponseWriter) Write(b []byte) (int, error) {
	n, err := x.w.Write(b)
	x.n += int64(n)
	return n, err
}
