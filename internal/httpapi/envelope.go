package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/i5heu/ouroboros-db/pkg/syncerr"
)

// envelope is the JSON response shape from spec §6.
type envelope struct {
	Status    string         `json:"api:status"`
	Message   string         `json:"api:message"`
	ErrorTerm string         `json:"api:error_term,omitempty"`
	Extra     map[string]any `json:"-"`
}

func (e envelope) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"api:status":  e.Status,
		"api:message": e.Message,
	}
	if e.ErrorTerm != "" {
		out["api:error_term"] = e.ErrorTerm
	}
	for k, v := range e.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

func writeSuccess(w http.ResponseWriter, message string, extra map[string]any) {
	writeEnvelope(w, http.StatusOK, envelope{Status: "api:success", Message: message, Extra: extra})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// writeError maps a syncerr.Kind to the status codes in spec §7 and emits
// the failure envelope.
func writeError(w http.ResponseWriter, err error) {
	kind := syncerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case syncerr.KindUnauthorized:
		status = http.StatusUnauthorized
	case syncerr.KindNotFound:
		status = http.StatusNotFound
	case syncerr.KindPushRequiresBranch, syncerr.KindPushAttemptedOnNonRemote,
		syncerr.KindPushHasNoRepositoryHead, syncerr.KindRemoteNotEmptyOnLocalEmpty:
		status = http.StatusBadRequest
	case syncerr.KindRemoteDiverged, syncerr.KindNoCommonHistory:
		status = http.StatusConflict
	case syncerr.KindNetworkError, syncerr.KindRemoteConnectionFailure,
		syncerr.KindRemotePackFailed, syncerr.KindRemotePackUnexpectedFailure,
		syncerr.KindRemoteUnpackFailed, syncerr.KindChecksumMismatch:
		status = http.StatusBadGateway
	case syncerr.KindInternal, syncerr.KindUnknown:
		status = http.StatusInternalServerError
	}
	writeEnvelope(w, status, envelope{Status: "api:failure", Message: err.Error(), ErrorTerm: kind.String()})
}
