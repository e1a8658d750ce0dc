package config

import (
	"reflect"
	"sort"
	"strings"

	logx "craftybot/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{"telegram.token": true, "storage": true}

// SummarizeConfigChange returns the changed sections, safe structured
// fields for logging (secrets are reported only as set/unset) and the
// subset of changes that need a restart to apply.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, fields []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := *oldCfg, *newCfg

	if o.Telegram.Token != n.Telegram.Token {
		changed = append(changed, "telegram.token")
		fields = append(fields, logx.Bool("telegram.token_set", n.Telegram.Token != ""))
	}
	oTel, nTel := o.Telegram, n.Telegram
	oTel.Token, nTel.Token = "", ""
	if !reflect.DeepEqual(oTel, nTel) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nTel.PollTimeout)),
			logx.Int("telegram.owner_count", len(nTel.OwnerUserIDs)),
		)
	}

	oCr, nCr := o.Crafty, n.Crafty
	if oCr != nCr {
		changed = append(changed, "crafty")
		fields = append(fields,
			logx.String("crafty.base_url", nCr.BaseURL),
			logx.Bool("crafty.api_key_set", nCr.APIKey != ""),
			logx.Int("crafty.max_parallel", nCr.MaxParallel),
		)
	}

	if o.Broadcast != n.Broadcast {
		changed = append(changed, "broadcast")
		fields = append(fields,
			logx.String("broadcast.interval", n.Broadcast.Interval),
			logx.String("broadcast.schedule", n.Broadcast.Schedule),
			logx.Int("broadcast.workers", n.Broadcast.Workers),
			logx.Any("broadcast.rate_per_sec", n.Broadcast.RatePerSec),
		)
	}

	if o.Storage != n.Storage {
		changed = append(changed, "storage")
		fields = append(fields,
			logx.String("storage.driver", n.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(n.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(n.Storage.DSN) != ""),
		)
	}

	if o.HTTP != n.HTTP {
		changed = append(changed, "http")
		fields = append(fields,
			logx.Bool("http.enabled", n.HTTP.Enabled),
			logx.String("http.addr", n.HTTP.Addr),
			logx.Bool("http.webhook_token_set", n.HTTP.WebhookToken != ""),
		)
	}

	if o.Logging != n.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", n.Logging.Chat.Enabled),
		)
	}

	sort.Strings(changed)
	for _, c := range changed {
		if restartSections[c] {
			restart = append(restart, c)
		}
	}
	return changed, fields, restart
}
