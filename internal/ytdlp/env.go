package ytdlp

import (
	"os"
	"sort"
	"strings"
)

// UTF8Env forces yt-dlp to emit UTF-8 whatever the host locale is.
func UTF8Env() map[string]string {
	return map[string]string{
		"PYTHONIOENCODING": "utf-8",
		"PYTHONUTF8":       "1",
		"LANG":             "C.UTF-8",
		"LC_ALL":           "C.UTF-8",
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

func processEnv(overrides map[string]string) []string {
	return mergeEnv(os.Environ(), overrides)
}
