package reputation

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies a ledger rule violation. Values are stable and start at
// 6000 so clients that already map the on-chain error table keep working.
type Code uint32

const (
	CodeNameTooLong Code = 6000 + iota
	CodeAgentAlreadyRegistered
	CodeAgentNotRegistered
	CodeInsufficientReputation
	CodeSelfVouchNotAllowed
	CodeLockupNotExpired
	CodeInvalidReputationAmount
	CodeTaskIDTooLong
	CodeAgentInactive
	CodeDecayCooldown
	CodeMathOverflow
	CodeAlreadyInitialized
	CodeNotInitialized
	CodeVouchAlreadyExists
	CodeVouchNotFound
	CodeTaskAlreadyRecorded
	CodeInvalidDecayRate
	CodeInvalidLockupPeriod
	CodeCorruptRecord
	CodeTaskNotFound
)

var codeInfo = map[Code]struct {
	name string
	grpc codes.Code
}{
	CodeNameTooLong:             {"name_too_long", codes.InvalidArgument},
	CodeAgentAlreadyRegistered:  {"agent_already_registered", codes.AlreadyExists},
	CodeAgentNotRegistered:      {"agent_not_registered", codes.NotFound},
	CodeInsufficientReputation:  {"insufficient_reputation", codes.FailedPrecondition},
	CodeSelfVouchNotAllowed:     {"self_vouch_not_allowed", codes.InvalidArgument},
	CodeLockupNotExpired:        {"lockup_not_expired", codes.FailedPrecondition},
	CodeInvalidReputationAmount: {"invalid_reputation_amount", codes.InvalidArgument},
	CodeTaskIDTooLong:           {"task_id_too_long", codes.InvalidArgument},
	CodeAgentInactive:           {"agent_inactive", codes.FailedPrecondition},
	CodeDecayCooldown:           {"decay_cooldown", codes.FailedPrecondition},
	CodeMathOverflow:            {"math_overflow", codes.OutOfRange},
	CodeAlreadyInitialized:      {"already_initialized", codes.AlreadyExists},
	CodeNotInitialized:          {"not_initialized", codes.FailedPrecondition},
	CodeVouchAlreadyExists:      {"vouch_already_exists", codes.AlreadyExists},
	CodeVouchNotFound:           {"vouch_not_found", codes.NotFound},
	CodeTaskAlreadyRecorded:     {"task_already_recorded", codes.AlreadyExists},
	CodeInvalidDecayRate:        {"invalid_decay_rate", codes.InvalidArgument},
	CodeInvalidLockupPeriod:     {"invalid_lockup_period", codes.InvalidArgument},
	CodeCorruptRecord:           {"corrupt_record", codes.DataLoss},
	CodeTaskNotFound:            {"task_not_found", codes.NotFound},
}

func (c Code) String() string {
	if info, ok := codeInfo[c]; ok {
		return info.name
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// Error is a ledger rule violation. Two Errors match under errors.Is when
// their codes are equal, so wrapped errors with extra context still match
// the sentinels below.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// GRPCStatus lets status.Code and status.FromError classify ledger errors.
func (e *Error) GRPCStatus() *status.Status {
	c := codes.Unknown
	if info, ok := codeInfo[e.Code]; ok {
		c = info.grpc
	}
	return status.New(c, e.Message)
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

var (
	ErrNameTooLong             = newError(CodeNameTooLong, "agent name too long")
	ErrAgentAlreadyRegistered  = newError(CodeAgentAlreadyRegistered, "agent already registered")
	ErrAgentNotRegistered      = newError(CodeAgentNotRegistered, "agent not registered")
	ErrInsufficientReputation  = newError(CodeInsufficientReputation, "insufficient reputation for vouching")
	ErrSelfVouchNotAllowed     = newError(CodeSelfVouchNotAllowed, "cannot vouch for yourself")
	ErrLockupNotExpired        = newError(CodeLockupNotExpired, "vouch lockup period not expired")
	ErrInvalidReputationAmount = newError(CodeInvalidReputationAmount, "invalid reputation amount")
	ErrTaskIDTooLong           = newError(CodeTaskIDTooLong, "task id too long")
	ErrAgentInactive           = newError(CodeAgentInactive, "agent is inactive")
	ErrDecayCooldown           = newError(CodeDecayCooldown, "decay already applied recently")
	ErrMathOverflow            = newError(CodeMathOverflow, "math overflow")
	ErrAlreadyInitialized      = newError(CodeAlreadyInitialized, "protocol already initialized")
	ErrNotInitialized          = newError(CodeNotInitialized, "protocol not initialized")
	ErrVouchAlreadyExists      = newError(CodeVouchAlreadyExists, "vouch already exists for this pair")
	ErrVouchNotFound           = newError(CodeVouchNotFound, "vouch not found")
	ErrTaskAlreadyRecorded     = newError(CodeTaskAlreadyRecorded, "task already recorded")
	ErrTaskNotFound            = newError(CodeTaskNotFound, "task not found")
	ErrInvalidDecayRate        = newError(CodeInvalidDecayRate, "decay rate exceeds 10000 basis points")
	ErrInvalidLockupPeriod     = newError(CodeInvalidLockupPeriod, "lockup period must not be negative")
	ErrCorruptRecord           = newError(CodeCorruptRecord, "corrupt record")
)

// errorf returns an error matching base with a more specific message.
func errorf(base *Error, format string, args ...interface{}) error {
	return &Error{Code: base.Code, Message: base.Message + ": " + fmt.Sprintf(format, args...)}
}

// resultLabel is the metrics label for an operation outcome.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code.String()
	}
	return "error"
}
