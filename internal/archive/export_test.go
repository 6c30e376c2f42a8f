package archive

import (
	"net/http"

	"github.com/archlocal/paccheck/internal/pkgdb"
)

func FakeDo(do func(req *http.Request) (*http.Response, error)) (restore func()) {
	old := httpDo
	httpDo = do
	return func() {
		httpDo = old
	}
}

func ManifestURL(pkg pkgdb.Package, ext string) string {
	return manifestURL(pkg, ext)
}
