package makemkv

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"discarchive/internal/logging"
	"discarchive/internal/toolparse"
)

// makemkvcon robot-mode message codes the client reacts to.
const (
	MsgReadError            = 2003
	MsgWriteError           = 2019
	MsgTitleError           = 5003
	MsgRipCompleted         = 5004
	MsgDiscOpenError        = 5010
	MsgEvalExpiredTooOld    = 5021
	MsgEvalPeriodExpired    = 5052
	MsgEvalExpiredShareware = 5055
	MsgBackupFailed         = 5080
)

// MessageError wraps a makemkvcon message code into an error with a hint.
type MessageError struct {
	Code    int
	Message string
	Hint    string
}

func (e *MessageError) Error() string {
	msg := fmt.Sprintf("makemkv message %d: %s", e.Code, e.Message)
	if e.Hint != "" {
		return msg + " (" + e.Hint + ")"
	}
	return msg
}

// messageMonitor tracks MSG lines during one makemkvcon run. Fatal messages
// cancel the run through cancel when it is set.
type messageMonitor struct {
	logger     *slog.Logger
	cancel     context.CancelCauseFunc
	fatalErr   error
	readErrors int
	lastText   string
	saved      int
	failed     int
}

func newMessageMonitor(logger *slog.Logger, cancel context.CancelCauseFunc) *messageMonitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &messageMonitor{logger: logger, cancel: cancel, saved: -1}
}

func (m *messageMonitor) observe(line string) {
	msg, ok := toolparse.ParseRobotMessage(line)
	if !ok {
		return
	}
	m.lastText = msg.Text
	switch msg.Code {
	case MsgReadError:
		m.readErrors++
		logging.WarnWithContext(m.logger, "makemkv read error", "makemkv_read_error",
			logging.String(logging.FieldErrorHint, "disc may have physical damage or drive issue"),
			logging.String(logging.FieldImpact, "rip may produce corrupted or incomplete output"),
			logging.String("classification", classifyReadError(msg.Text)),
			logging.Int("read_error_count", m.readErrors),
			logging.String("msg_text", msg.Text),
		)
	case MsgWriteError:
		m.logger.Error("makemkv write error", logging.String(logging.FieldEventType, "makemkv_write_error"), logging.String("msg_text", msg.Text))
		if strings.Contains(msg.Text, "No such file") {
			m.fail(&MessageError{Code: msg.Code, Message: msg.Text, Hint: "check that the output directory exists and is writable"})
		}
	case MsgTitleError:
		logging.WarnWithContext(m.logger, "makemkv title save failed", "makemkv_title_error",
			logging.String(logging.FieldErrorHint, "title could not be saved"),
			logging.String("msg_text", msg.Text),
		)
	case MsgRipCompleted:
		m.saved, m.failed = countsFromParams(msg.Params)
		m.logger.Info("makemkv rip result",
			logging.String(logging.FieldEventType, "makemkv_rip_result"),
			logging.Int("titles_saved", m.saved),
			logging.Int("titles_failed", m.failed),
		)
		if m.saved == 0 {
			m.fatalErr = &MessageError{Code: msg.Code, Message: msg.Text, Hint: "no titles were saved; check disc readability"}
		}
	case MsgDiscOpenError:
		logging.WarnWithContext(m.logger, "makemkv disc open error", "makemkv_disc_open_error",
			logging.String(logging.FieldErrorHint, "disc may not be readable or drive may be busy"),
			logging.String("msg_text", msg.Text),
		)
	case MsgEvalExpiredTooOld, MsgEvalExpiredShareware:
		m.logger.Error("makemkv license expired",
			logging.String(logging.FieldEventType, "makemkv_license_expired"),
			logging.Int("msg_code", msg.Code),
			logging.String("msg_text", msg.Text),
		)
		m.fail(&MessageError{Code: msg.Code, Message: msg.Text, Hint: "update or register MakeMKV"})
	case MsgEvalPeriodExpired:
		logging.WarnWithContext(m.logger, "makemkv evaluation period expiring", "makemkv_eval_warning",
			logging.String(logging.FieldImpact, "ripping will stop working when evaluation expires"),
			logging.String("msg_text", msg.Text),
		)
	case MsgBackupFailed:
		m.logger.Error("makemkv backup failed", logging.String(logging.FieldEventType, "makemkv_backup_failed"), logging.String("msg_text", msg.Text))
	default:
		if msg.Code >= 5000 {
			m.logger.Info("makemkv disc message", logging.Int("msg_code", msg.Code), logging.String("msg_text", msg.Text))
		} else {
			m.logger.Debug("makemkv message", logging.Int("msg_code", msg.Code), logging.String("msg_text", msg.Text))
		}
	}
}

func (m *messageMonitor) fail(err error) {
	m.fatalErr = err
	if m.cancel != nil {
		m.cancel(err)
	}
}

func (m *messageMonitor) fatal() error {
	return m.fatalErr
}

// summary describes the last message seen, for wrapping a failed exit.
func (m *messageMonitor) summary() string {
	if m.lastText == "" {
		return "makemkvcon failed"
	}
	return "makemkvcon failed: " + m.lastText
}

func classifyReadError(text string) string {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "TRAY OPEN"):
		return "tray_open"
	case strings.Contains(upper, "L-EC UNCORRECTABLE"):
		return "uncorrectable_read"
	case strings.Contains(upper, "HARDWARE ERROR"):
		return "hardware_error"
	default:
		return "read_error"
	}
}

// countsFromParams reads the saved and failed counts carried by a 5004
// message. Missing values read as zero.
func countsFromParams(params []string) (int, int) {
	var values [2]int
	for i := 0; i < len(params) && i < 2; i++ {
		values[i], _ = strconv.Atoi(strings.TrimSpace(params[i]))
	}
	return values[0], values[1]
}
