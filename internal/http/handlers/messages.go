package handlers

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"vidforge/internal/domain"
)

const (
	codeNotFound            = "not_found"
	codeUnauthorized        = "unauthorized"
	codeBadRequest          = "bad_request"
	codeProviderUnavailable = "provider_unavailable"
	codeExtensionNotAllowed = "extension_not_allowed"
	codeConflict            = "conflict"
	codeUpstream            = "upstream_error"
	codeInternal            = "internal"
)

type localized struct {
	en, id string
}

var titles = map[string]localized{
	codeNotFound:            {"Not found", "Tidak ditemukan"},
	codeUnauthorized:        {"Sign in required", "Perlu masuk"},
	codeBadRequest:          {"Invalid request", "Permintaan tidak valid"},
	codeProviderUnavailable: {"Provider unavailable", "Penyedia tidak tersedia"},
	codeExtensionNotAllowed: {"Extension not allowed", "Perpanjangan tidak diizinkan"},
	codeConflict:            {"Request conflict", "Permintaan bentrok"},
	codeUpstream:            {"Provider error", "Kesalahan penyedia"},
	codeInternal:            {"Something went wrong", "Terjadi kesalahan"},

	kindKey(domain.ErrorKindDispatch):          {"The provider rejected the request", "Penyedia menolak permintaan"},
	kindKey(domain.ErrorKindBackend):           {"Generation failed", "Pembuatan video gagal"},
	kindKey(domain.ErrorKindSafetyFilter):      {"Blocked by content policy", "Diblokir oleh kebijakan konten"},
	kindKey(domain.ErrorKindEmptyOutput):       {"No video was produced", "Tidak ada video yang dihasilkan"},
	kindKey(domain.ErrorKindIngestionDegraded): {"Video not stored yet", "Video belum tersimpan"},
	kindKey(domain.ErrorKindExtensionPartial):  {"Video partially extended", "Video diperpanjang sebagian"},
}

var messages = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, t := range titles {
		_ = b.SetString(language.English, key, t.en)
		_ = b.SetString(language.Indonesian, key, t.id)
	}
	return b
}

func kindKey(kind domain.ErrorKind) string {
	return "kind." + string(kind)
}

func printer(locale string) *message.Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag, message.Catalog(messages))
}

func errorTitle(locale, code string) string {
	if _, ok := titles[code]; !ok {
		code = codeInternal
	}
	return printer(locale).Sprintf(code)
}

// kindTitle localizes a job's error kind; a job without one has no title.
func kindTitle(locale string, kind domain.ErrorKind) string {
	key := kindKey(kind)
	if _, ok := titles[key]; !ok {
		return ""
	}
	return printer(locale).Sprintf(key)
}
