package selector

import "errors"

var (
	ErrUnexpectedEOF   = errors.New("selector: unexpected end of expression")
	ErrUnexpectedToken = errors.New("selector: unexpected token")
	ErrUnterminated    = errors.New("selector: unterminated string literal")
	ErrEmptyExpression = errors.New("selector: empty expression")
)
