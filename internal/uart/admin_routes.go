package uart

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

// Admin serialises access to a UART so it can be driven from concurrent HTTP
// handlers.
type Admin struct {
	mu sync.Mutex
	u  *UART
}

// NewAdmin wraps u. The caller keeps ownership of u and must not use it
// directly while the admin routes are being served.
func NewAdmin(u *UART) *Admin {
	return &Admin{u: u}
}

// Lock and Unlock let other drivers of the handle, such as a console,
// share the admin routes' exclusion.
func (a *Admin) Lock() {
	a.mu.Lock()
}

func (a *Admin) Unlock() {
	a.mu.Unlock()
}

// Do runs fn with exclusive access to the handle.
func (a *Admin) Do(fn func(u *UART) error) error {
	a.Lock()
	defer a.Unlock()
	return fn(a.u)
}

type adminStatus struct {
	Index   int    `json:"index"`
	DevPath string `json:"dev_path"`
	Config  Config `json:"config"`
}

// AttachAdminRoutes attaches UART debugging endpoints to the given HTTP mux
// served at /debug/. These routes are accessible only over localhost or via
// Tailscale.
func (a *Admin) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("uart", "UART handle configuration", func(w http.ResponseWriter, r *http.Request) {
		var status adminStatus
		_ = a.Do(func(u *UART) error {
			status = adminStatus{Index: u.Index(), DevPath: u.DevPath(), Config: u.Config()}
			return nil
		})
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			http.Error(w, "Failed to encode status", http.StatusInternalServerError)
		}
	})

	// API endpoint to write raw bytes to the port
	debug.HandleSilentFunc("uart-write", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data := r.FormValue("data")
		if data == "" {
			http.Error(w, "Missing data", http.StatusBadRequest)
			return
		}
		var n int
		err := a.Do(func(u *UART) error {
			var err error
			n, err = u.Write([]byte(data))
			return err
		})
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to write: %v", err), http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote %d bytes to %s", n, a.devPath()))
	})

	debug.HandleSilentFunc("uart-read", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var data []byte
		err := a.Do(func(u *UART) error {
			var err error
			data, err = u.Read()
			return err
		})
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	})

	// Reads up to the prompt byte; ?prompt= overrides the configured one with
	// a single character or a decimal byte value.
	debug.HandleSilentFunc("uart-prompt", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		override, hasOverride, err := parsePromptParam(r.URL.Query().Get("prompt"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var data []byte
		err = a.Do(func(u *UART) error {
			var err error
			if hasOverride {
				data, err = u.ReadUntil(override)
			} else {
				data, err = u.ReadToPrompt()
			}
			return err
		})
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	})
}

func (a *Admin) devPath() string {
	var path string
	_ = a.Do(func(u *UART) error {
		path = u.DevPath()
		return nil
	})
	return path
}

// parsePromptParam accepts "" (no override), a single character, or a
// decimal byte value.
func parsePromptParam(s string) (byte, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	if len(s) == 1 {
		return s[0], true, nil
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, false, fmt.Errorf("invalid prompt %q: expected a character or byte value", s)
	}
	return byte(v), true, nil
}
