// Package ascii exposes the raw command interface of line oriented
// instruments over HTTP
package ascii

import (
	"bufio"
	"encoding/json"
	"go/types"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/scopelab/rigolab/generichttp"
)

// RawCommunicator sends one command and returns the response, if any
type RawCommunicator interface {
	Raw(string) (string, error)
}

// commands reads the request body as either {'str': cmd} or, for
// text/plain, one command per line
func commands(r *http.Request) ([]string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "text/plain" {
		str := generichttp.StrT{}
		if err := json.NewDecoder(r.Body).Decode(&str); err != nil {
			return nil, err
		}
		return []string{str.Str}, nil
	}
	var out []string
	scn := bufio.NewScanner(io.LimitReader(r.Body, 1<<16))
	for scn.Scan() {
		if line := strings.TrimSpace(scn.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, scn.Err()
}

// HTTPRaw sends the commands in the request body in order and replies with
// the responses joined by newlines.  The first failure stops the batch.
func HTTPRaw(rc RawCommunicator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmds, err := commands(r)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resps := make([]string, 0, len(cmds))
		for _, c := range cmds {
			resp, err := rc.Raw(c)
			if err != nil {
				http.Error(w, c+": "+err.Error(), http.StatusInternalServerError)
				return
			}
			if resp != "" {
				resps = append(resps, resp)
			}
		}
		hp := generichttp.HumanPayload{T: types.String, String: strings.Join(resps, "\n")}
		hp.EncodeAndRespond(w, r)
	}
}

// InjectRawComm adds a POST /raw route to the route table of an HTTPer
func InjectRawComm(other generichttp.HTTPer, rc RawCommunicator) {
	other.RT()[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = HTTPRaw(rc)
}
