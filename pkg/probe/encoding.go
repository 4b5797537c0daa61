package probe

import (
	"context"
	"strings"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/runner"
)

const utf8CodePage = "65001"

func (p *Prober) detectEncoding(ctx context.Context, osType engine.OSType) engine.EncodingSupport {
	if osType == engine.OSWindows {
		return p.windowsEncoding(ctx)
	}

	locale := firstNonEmpty(p.getenv("LC_ALL"), p.getenv("LC_CTYPE"), p.getenv("LANG"))
	if locale == "" {
		return engine.EncodingSupport{UTF8: true, ConsoleEncoding: "UTF-8"}
	}

	enc := locale
	if _, charset, ok := strings.Cut(locale, "."); ok {
		enc = charset
		if at := strings.IndexByte(enc, '@'); at >= 0 {
			enc = enc[:at]
		}
	}

	return engine.EncodingSupport{
		UTF8:            isUTF8Name(enc),
		ConsoleEncoding: enc,
		Locale:          locale,
	}
}

// windowsEncoding reads the active console code page with chcp. Windows
// Terminal always renders UTF-8 regardless of the code page.
func (p *Prober) windowsEncoding(ctx context.Context) engine.EncodingSupport {
	support := engine.EncodingSupport{ConsoleEncoding: "unknown"}

	res, err := p.runner.Run(ctx, runner.Command{Name: "chcp", Timeout: p.timeout})
	if err == nil {
		fields := strings.Fields(res.Stdout)
		if len(fields) > 0 {
			cp := strings.TrimRight(fields[len(fields)-1], ".")
			support.ConsoleEncoding = "cp" + cp
			support.UTF8 = cp == utf8CodePage
		}
	}
	if p.getenv("WT_SESSION") != "" {
		support.UTF8 = true
	}
	return support
}

func isUTF8Name(name string) bool {
	n := strings.ToLower(strings.ReplaceAll(name, "-", ""))
	return n == "utf8"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
