package routes

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	appmw "github.com/briangreenhill/baydirectory/internal/http/middleware"
	"github.com/briangreenhill/baydirectory/pkg/translate"
)

const sessionLangKey = "lang"

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translate.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid JSON body"})
		return
	}
	if req.TargetLang == "" {
		req.TargetLang = appmw.Lang(r)
	}
	if req.TargetLang == "" {
		req.TargetLang = acceptLang(r)
	}
	for _, f := range []struct {
		name string
		val  *string
	}{{"targetLang", &req.TargetLang}, {"sourceLang", &req.SourceLang}} {
		if *f.val == "" {
			continue
		}
		lang, ok := parseLang(*f.val)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: f.name + " is not a known language tag"})
			return
		}
		*f.val = lang
	}

	res, err := s.Translator.TranslateTexts(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.FromCache {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetLang(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lang string `json:"lang"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid JSON body"})
		return
	}
	lang, ok := parseLang(body.Lang)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "lang must be a language tag such as \"es\" or \"zh-TW\""})
		return
	}

	s.Sess.Put(r.Context(), sessionLangKey, lang)
	writeJSON(w, http.StatusOK, map[string]string{"lang": lang})
}

// parseLang returns the canonical form of a BCP 47 tag. Malformed tags,
// unknown subtags and "und" are rejected.
func parseLang(s string) (string, bool) {
	tag, err := language.Parse(strings.TrimSpace(s))
	if err != nil || tag == language.Und {
		return "", false
	}
	return tag.String(), true
}

// acceptLang is the caller's most preferred language from Accept-Language,
// or "" when the header names none.
func acceptLang(r *http.Request) string {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil {
		return ""
	}
	for _, tag := range tags {
		if tag != language.Und {
			return tag.String()
		}
	}
	return ""
}
