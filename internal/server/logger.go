package server

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/shibukawa/tokenlab/internal/token"
)

// Logger provides colorful, pretty logging for the token server
type Logger struct {
	out io.Writer

	// Color functions
	success *color.Color
	info    *color.Color
	warning *color.Color
	error   *color.Color
	debug   *color.Color

	// Special colors
	highlight *color.Color
	url       *color.Color
	key       *color.Color
	value     *color.Color
}

// NewLogger creates a new colorful logger writing to the terminal
func NewLogger() *Logger {
	return NewLoggerWithWriter(color.Output)
}

// NewLoggerWithWriter creates a logger writing to out
func NewLoggerWithWriter(out io.Writer) *Logger {
	return &Logger{
		out:       out,
		success:   color.New(color.FgGreen, color.Bold),
		info:      color.New(color.FgCyan, color.Bold),
		warning:   color.New(color.FgYellow, color.Bold),
		error:     color.New(color.FgRed, color.Bold),
		debug:     color.New(color.FgMagenta),
		highlight: color.New(color.FgWhite, color.Bold),
		url:       color.New(color.FgBlue, color.Underline),
		key:       color.New(color.FgYellow),
		value:     color.New(color.FgGreen),
	}
}

// ServerStarting logs server startup with the endpoint list
func (l *Logger) ServerStarting(addr, baseURL string, https bool, metricsPath string) {
	l.newline()
	l.printBanner()
	l.newline()

	if https {
		l.success.Fprint(l.out, "🔒 HTTPS Server Starting")
	} else {
		l.info.Fprint(l.out, "🚀 HTTP Server Starting")
	}
	l.newline()

	l.printKeyValue("📍 Address", addr)
	l.printKeyValue("⏰ Started", time.Now().Format("2006-01-02 15:04:05"))

	l.newline()
	l.info.Fprintln(l.out, "📋 Available Endpoints:")
	l.printEndpoint("Secure", "POST "+baseURL+SecureForgotPasswordPath)
	l.printEndpoint("Vulnerable", "POST "+baseURL+VulnerableForgotPasswordPath)
	l.printEndpoint("Health Check", "GET  "+baseURL+HealthPath)
	if metricsPath != "" {
		l.printEndpoint("Metrics", "GET  "+baseURL+metricsPath)
	}

	l.newline()
	l.warning.Fprintf(l.out, "⚠️  %s tokens are predictable by design. Do not expose this server.\n", token.StrategyVulnerable)
	l.success.Fprintln(l.out, "✅ Server ready to accept connections!")
	l.printSeparator()
}

// ConfigReloaded logs successful configuration reload
func (l *Logger) ConfigReloaded(configFile string, changes []string) {
	l.newline()
	l.info.Fprint(l.out, "🔄 Configuration Reloaded")
	l.newline()

	l.printKeyValue("📄 File", configFile)
	l.printKeyValue("⏰ Time", time.Now().Format("15:04:05"))

	if len(changes) > 0 {
		l.newline()
		l.info.Fprintln(l.out, "📝 Changes Applied:")
		for _, change := range changes {
			fmt.Fprint(l.out, "   • ")
			l.value.Fprintln(l.out, change)
		}
	}

	l.newline()
	l.success.Fprintln(l.out, "✅ Configuration updated successfully!")
	l.printSeparator()
}

// ConfigReloadFailed logs configuration reload failure
func (l *Logger) ConfigReloadFailed(configFile string, err error) {
	l.newline()
	l.error.Fprint(l.out, "❌ Configuration Reload Failed")
	l.newline()

	l.printKeyValue("📄 File", configFile)
	l.printKeyValue("⏰ Time", time.Now().Format("15:04:05"))
	l.printKeyValue("💥 Error", err.Error())

	l.newline()
	l.warning.Fprintln(l.out, "⚠️  Using previous configuration")
	l.printSeparator()
}

func (l *Logger) statusStyle(statusCode int) (*color.Color, string) {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return l.success, "✅"
	case statusCode >= 300 && statusCode < 400:
		return l.info, "🔄"
	case statusCode >= 400 && statusCode < 500:
		return l.warning, "⚠️"
	default:
		return l.error, "❌"
	}
}

// RequestLog logs HTTP requests with colors
func (l *Logger) RequestLog(method, path string, statusCode int, duration time.Duration) {
	l.requestLine(method, path, statusCode, duration)
	l.newline()
}

// RequestLogWithCORS logs HTTP requests with CORS debugging information
func (l *Logger) RequestLogWithCORS(method, path string, statusCode int, duration time.Duration, origin, corsOrigin string) {
	l.requestLine(method, path, statusCode, duration)

	if origin != "" {
		l.key.Fprint(l.out, " Origin: ")
		l.value.Fprint(l.out, printable(origin))
		if corsOrigin != "" {
			l.key.Fprint(l.out, " → CORS: ")
			if corsOrigin == origin || corsOrigin == "*" {
				l.success.Fprint(l.out, corsOrigin)
			} else {
				l.warning.Fprint(l.out, corsOrigin)
			}
		} else {
			l.error.Fprint(l.out, " → No CORS")
		}
	}
	l.newline()
}

func (l *Logger) requestLine(method, path string, statusCode int, duration time.Duration) {
	statusColor, statusEmoji := l.statusStyle(statusCode)

	l.debug.Fprintf(l.out, "[%s] ", time.Now().Format("15:04:05"))
	statusColor.Fprintf(l.out, "%s %d ", statusEmoji, statusCode)
	l.highlight.Fprintf(l.out, "%-6s ", method)
	l.url.Fprintf(l.out, "%-30s ", printable(path))
	l.debug.Fprintf(l.out, "(%v)", duration)
}

// TokenIssued logs token issuance. Secure tokens are masked; vulnerable ones
// are printed in full because anyone can compute them anyway.
func (l *Logger) TokenIssued(strategy token.Strategy, userID, tok string) {
	l.newline()
	if strategy == token.StrategyVulnerable {
		l.warning.Fprint(l.out, "🎫 Predictable Token Issued")
	} else {
		l.success.Fprint(l.out, "🎫 Token Issued")
	}
	l.newline()

	l.printKeyValue("🔑 Strategy", string(strategy))
	if strategy == token.StrategyVulnerable {
		// Both embed the client-supplied user id.
		l.printKeyValue("🧑 User", printable(userID))
		l.printKeyValue("🎟️ Token", printable(tok))
	} else {
		l.printKeyValue("🎟️ Token", maskToken(tok))
	}
	l.printKeyValue("⏰ Time", time.Now().Format("15:04:05"))
	l.printSeparator()
}

// maskToken keeps only enough of a token to correlate log lines.
func maskToken(tok string) string {
	const visible = 8
	if len(tok) <= visible {
		return strings.Repeat("*", len(tok))
	}
	return tok[:visible] + "..."
}

// printable returns s unchanged when it is safe to write to a terminal, and
// Go-quoted otherwise so that control characters cannot forge log lines or
// inject escape sequences.
func printable(s string) string {
	if !utf8.ValidString(s) {
		return strconv.Quote(s)
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return strconv.Quote(s)
		}
	}
	return s
}

// Error logs errors with formatting
func (l *Logger) Error(message string, err error) {
	l.newline()
	l.error.Fprint(l.out, "❌ Error: ")
	l.error.Fprintln(l.out, message)

	if err != nil {
		l.printKeyValue("💥 Details", err.Error())
	}
	l.printKeyValue("⏰ Time", time.Now().Format("15:04:05"))

	l.printSeparator()
}

// Warning logs warnings with formatting
func (l *Logger) Warning(message string) {
	l.newline()
	l.warning.Fprint(l.out, "⚠️  Warning: ")
	l.warning.Fprintln(l.out, message)
	l.printKeyValue("⏰ Time", time.Now().Format("15:04:05"))
	l.printSeparator()
}

// Info logs info messages with formatting
func (l *Logger) Info(message string) {
	l.newline()
	l.info.Fprint(l.out, "ℹ️  Info: ")
	l.info.Fprintln(l.out, message)
	l.printKeyValue("⏰ Time", time.Now().Format("15:04:05"))
	l.printSeparator()
}

func (l *Logger) newline() {
	fmt.Fprintln(l.out)
}

// printBanner prints the application banner
func (l *Logger) printBanner() {
	banner := `
 _        _              _       _
| |_ ___ | | _____ _ __ | | __ _| |__
| __/ _ \| |/ / _ \ '_ \| |/ _' | '_ \
| || (_) |   <  __/ | | | | (_| | |_) |
 \__\___/|_|\_\___|_| |_|_|\__,_|_.__/

Password Reset Token Randomness Lab`

	l.highlight.Fprintln(l.out, banner)
}

// printKeyValue prints a key-value pair with colors
func (l *Logger) printKeyValue(key, value string) {
	l.key.Fprintf(l.out, "   %-12s ", key+":")
	l.value.Fprintln(l.out, value)
}

// printEndpoint prints an endpoint with colors
func (l *Logger) printEndpoint(name, url string) {
	l.key.Fprintf(l.out, "   %-15s ", name+":")
	l.url.Fprintln(l.out, url)
}

// printSeparator prints a visual separator
func (l *Logger) printSeparator() {
	l.debug.Fprintln(l.out, strings.Repeat("─", 80))
}
