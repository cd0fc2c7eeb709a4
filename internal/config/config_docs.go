package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "lock.policy") to their
// [FieldDoc] entries. The genconfig tool uses this map to annotate the
// generated config.default.toml with inline comments and alternative examples.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version. Do not edit.",
	},

	// ── Lock ─────────────────────────────────────────────────────
	"lock.path": {
		Comment: "Lock file. Its directory must already exist; the file itself is created\non first use and never deleted. Leave empty to use\n<lock dir>/cronguard-<command name>-<command line hash>.lock.",
	},
	"lock.policy": {
		Comment: "What to do when another instance holds the lock. Options: \"fail_fast\", \"wait\"\n  fail_fast: exit immediately with exit_codes.busy\n  wait:      retry for up to wait_timeout_ms, then exit with exit_codes.timeout",
		Alternatives: []string{
			`policy = "wait"`,
		},
	},
	"lock.wait_timeout_ms": {
		Comment: "Maximum wait in milliseconds for policy = \"wait\".",
	},
	"lock.poll_interval_ms": {
		Comment: "How often a waiting instance retries the lock (milliseconds).",
	},
	"lock.inherit": {
		Comment: "Pass the lock to the task process so it stays held until the task exits,\neven if cronguard itself is killed. Unix only.",
	},
	"lock.write_pid": {
		Comment: "Write the holder's PID into the lock file (shown by \"cronguard status\").",
	},
	"lock.perm": {
		Comment: "Octal mode for a newly created lock file (subject to umask). Use \"0666\"\nwhen jobs running as different users share one lock.",
		Alternatives: []string{
			`perm = "0666"`,
		},
	},

	// ── Task ─────────────────────────────────────────────────────
	"task.command": {
		Comment: "Command to run. Arguments after \"--\" on the command line replace command and args.",
	},
	"task.args": {},
	"task.dir": {
		Comment: "Working directory. Empty keeps cronguard's.",
	},
	"task.env_file": {
		Comment: "dotenv file applied on top of the inherited environment.",
		Alternatives: []string{
			`env_file = "/etc/cronguard/podcast-sync.env"`,
		},
	},
	"task.env": {
		Comment: "Explicit environment assignments, applied last.",
		Alternatives: []string{
			`[task.env]`,
			`TZ = "Europe/Vienna"`,
		},
	},
	"task.env_drop": {
		Comment: "Inherited variables to remove. Glob patterns supported.",
		Alternatives: []string{
			`env_drop = ["AWS_*", "SSH_AUTH_SOCK"]`,
		},
	},
	"task.forward_signals": {
		Comment: "Relay SIGINT/SIGTERM to the task and wait for it to exit.",
	},

	// ── Exit codes ───────────────────────────────────────────────
	"exit_codes.busy": {
		Comment: "Exit status when another instance holds the lock (75 = EX_TEMPFAIL).\nTask exit statuses are passed through unchanged; 127 means the task could\nnot be started.",
	},
	"exit_codes.timeout": {
		Comment: "Exit status when the wait expired. 0 means same as busy.",
	},
	"exit_codes.lock_failure": {
		Comment: "Exit status when the lock file cannot be opened or locked (71 = EX_OSERR).",
	},

	// ── Log ──────────────────────────────────────────────────────
	"log": {
		Comment: "Logging configuration",
	},
	"log.level": {
		Comment: "Minimum level written to the log file. Options: \"trace\", \"debug\", \"info\", \"warn\", \"error\"",
		Alternatives: []string{
			`level = "debug"`,
		},
	},
	"log.stderr_level": {
		Comment: "Minimum level written to stderr. cron mails anything on stderr, so the\ndefault keeps busy cycles quiet while lock failures still show up.",
		Alternatives: []string{
			`stderr_level = "info"`,
			`stderr_level = "error"`,
		},
	},
	"log.file": {
		Comment: "Log file. Empty disables file logging.",
	},
	"log.max_size_mb": {
		Comment: "Maximum log file size in megabytes before rotation.",
	},

	// ── Notify ───────────────────────────────────────────────────
	"notify": {
		Comment: "Monitoring pings (healthchecks.io style). On finish cronguard POSTs to\n<url>/<exit code>; lock failures POST to <url>/fail. Busy cycles never ping.",
	},
	"notify.url": {
		Alternatives: []string{
			`url = "https://hc-ping.com/your-check-uuid"`,
		},
	},
	"notify.on_start": {
		Comment: "Also POST <url>/start when the task launches.",
	},
	"notify.timeout_seconds": {
		Comment: "Timeout for each ping attempt (seconds).",
	},
	"notify.retries": {
		Comment: "Retries after a failed ping.",
	},

	// ── Metrics ──────────────────────────────────────────────────
	"metrics": {
		Comment: "Prometheus node-exporter textfile collector output. Rewritten after every\nrun that launched the task or hit a lock failure.",
	},
	"metrics.textfile": {
		Comment: "Empty disables the textfile.",
		Alternatives: []string{
			`textfile = "/var/lib/node_exporter/textfile_collector/podcast-sync.prom"`,
		},
	},
	"metrics.job": {
		Comment: "Value of the job label.",
	},

	// ── History ──────────────────────────────────────────────────
	"history": {
		Comment: "SQLite run ledger shown by \"cronguard history\". Empty path disables it.",
	},
	"history.path": {},
	"history.keep": {
		Comment: "Number of most recent runs to keep.",
	},
}
