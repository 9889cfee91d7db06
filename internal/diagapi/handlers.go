package diagapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
	"github.com/nerrad567/knx-tpuart-gateway/internal/comobject"
	"github.com/nerrad567/knx-tpuart-gateway/internal/device"
	"github.com/nerrad567/knx-tpuart-gateway/internal/dpt"
	"github.com/nerrad567/knx-tpuart-gateway/internal/eventlog"
)

// defaultEventLimit bounds how many rows /events returns when the
// caller does not specify ?limit=.
const defaultEventLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"link_state": int(s.dev.State()),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

type objectView struct {
	GA      string `json:"ga"`
	DPT     string `json:"dpt"`
	Valid   bool   `json:"valid"`
	Value   uint   `json:"value,omitempty"`
	Long    string `json:"long_value_hex,omitempty"`
	Length  int    `json:"length"`
	Decoded any    `json:"decoded,omitempty"`
}

func (s *Server) handleListObjects(w http.ResponseWriter, _ *http.Request) {
	objects := s.dev.Objects()
	views := make([]objectView, 0, len(objects))
	for _, obj := range objects {
		views = append(views, objectViewFor(obj))
	}
	writeJSON(w, http.StatusOK, views)
}

func objectViewFor(obj *comobject.Object) objectView {
	v := objectView{
		GA:     obj.Address().String(),
		DPT:    string(obj.DPT()),
		Valid:  obj.Valid(),
		Length: obj.Length(),
	}
	if !obj.Valid() {
		return v
	}

	var raw []byte
	if obj.Length() <= 2 {
		value, err := obj.Value()
		if err == nil {
			v.Value = value
			raw = []byte{byte(value)}
		}
	} else {
		raw = obj.LongValue()
		v.Long = hex.EncodeToString(raw)
	}

	if decoded, err := dpt.DecodeValue(obj.DPT(), raw); err == nil {
		v.Decoded = decoded
	}
	return v
}

// handleRecentEvents returns the most recent link events for
// postmortem diagnostics. It reports an empty history, rather than an
// error, when no event log is attached.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, []eventlog.Event{})
		return
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.events.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleBusReset re-initialises the link. It is destructive to any
// in-flight transmission, hence the admin guard.
func (s *Server) handleBusReset(w http.ResponseWriter, r *http.Request) {
	if err := s.dev.Begin(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Warn("bus reset requested via diagnostics api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type writeRequest struct {
	Value     *uint  `json:"value,omitempty"`
	LongValue string `json:"long_value_hex,omitempty"`
	Decoded   any    `json:"decoded_value,omitempty"`
}

func (s *Server) handleWriteObject(w http.ResponseWriter, r *http.Request) {
	// The route parameter uses dots ("1.2.3") rather than slashes so a
	// single path segment survives chi's routing unambiguously;
	// ParseGroup still expects the slash-separated form.
	gaParam := strings.ReplaceAll(chi.URLParam(r, "ga"), ".", "/")
	ga, err := address.ParseGroup(gaParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	index, ok := s.dev.IndexOf(ga)
	if !ok {
		writeError(w, http.StatusNotFound, ErrObjectNotFound)
		return
	}

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch {
	case req.Decoded != nil:
		obj := s.dev.Objects()[index]
		raw, err := dpt.EncodeValue(obj.DPT(), req.Decoded)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := writeRaw(s.dev, index, raw); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	case req.LongValue != "":
		raw, err := hex.DecodeString(req.LongValue)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.dev.WriteLong(index, raw); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	case req.Value != nil:
		if err := s.dev.Write(index, *req.Value); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, errMissingValue)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// writeRaw dispatches an encoded payload to the device through the
// scalar or wide write path depending on its length.
func writeRaw(dev *device.Device, index int, raw []byte) error {
	if len(raw) == 1 {
		return dev.Write(index, uint(raw[0]))
	}
	return dev.WriteLong(index, raw)
}
