package app

import (
	"net/http"
	"net/url"
	"strconv"

	"docstore/api/internal/accesskey"
)

// handleV2 dispatches the capability surface. Every route addresses documents
// through access keys (or a record id for copy_shared); ownership and run keys
// play no part here.
func (s *HTTPServer) handleV2(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if r.Method == http.MethodGet && r.URL.Path == "/v2/document/open" {
		key := keyFromQuery(query)
		doc, err := s.service.OpenByKey(r.Context(), key)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Document-Id", strconv.FormatInt(doc.ID, 10))
		if key.ReadWrite() {
			w.Header().Set("Allow", "GET, HEAD, OPTIONS, PUT, PATCH")
			w.Header().Set("X-Document-Store-Read-Only", "false")
		} else {
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			w.Header().Set("X-Document-Store-Read-Only", "true")
		}
		writeContent(w, http.StatusOK, doc.Content)
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/v2/document/save" {
		body, err := readBody(r)
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := s.service.SaveByKey(r.Context(), keyFromQuery(query), body)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPatch && r.URL.Path == "/v2/document/patch" {
		body, err := readBody(r)
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := s.service.PatchByKey(r.Context(), keyFromQuery(query), body)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/v2/document/copy_shared" {
		var recordID int64
		if raw := query.Get("recordid"); raw != "" {
			recordID, _ = strconv.ParseInt(raw, 10, 64)
		}
		result, err := s.service.CopyShared(r.Context(), recordID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/v2/document/create" {
		body, err := readBody(r)
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := s.service.CreateByKeys(r.Context(), body)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
		return
	}

	writeError(w, errNotFound())
}

// keyFromQuery accepts both the combined accessKey=RO::…/RW::… form and the
// legacy readAccessKey / readWriteAccessKey parameters.
func keyFromQuery(query url.Values) accesskey.Key {
	if raw := query.Get("accessKey"); raw != "" {
		return accesskey.Parse(raw)
	}
	return accesskey.FromParams(query.Get("readAccessKey"), query.Get("readWriteAccessKey"))
}
