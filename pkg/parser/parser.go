package parser

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

type Suite struct {
	Name     string
	Parallel bool
	Width    int
	Height   int
	Tests    []Test
	Line     int
}

type Test struct {
	Name  string
	Steps []Step
	Line  int
}

// Step is one action line. Soft is set for assertions written with the soft
// keyword instead of expect.
type Step struct {
	Action string
	Soft   bool
	Args   []Arg
	Line   int
}

// Error is a syntax error at a line of the input.
type Error struct {
	File string
	Line int
	Msg  string
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

type arity struct {
	min, max int // max < 0 means unbounded
}

var actions = map[string]arity{
	"open_site":  {0, 1},
	"navigate":   {1, 1},
	"viewport":   {2, 2},
	"fill":       {2, 2},
	"click":      {1, 1},
	"eyes_open":  {2, 2},
	"eyes_check": {1, -1},
	"eyes_close": {0, 1},
}

var assertions = map[string]arity{
	"visible":      {1, 1},
	"count":        {2, 2},
	"text":         {2, 2},
	"texts":        {2, -1},
	"contain_text": {2, 2},
	"match_text":   {2, 2},
	"each_in":      {2, -1},
}

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

// ParseFile parses a suite file. Tests before any suite line belong to a
// suite named after the file.
func (p *Parser) ParseFile(filename string) ([]Suite, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	suites, err := p.parse(bufio.NewScanner(file), name)
	if perr, ok := err.(*Error); ok {
		perr.File = filename
	}
	return suites, err
}

func (p *Parser) ParseString(content string) ([]Suite, error) {
	return p.parse(bufio.NewScanner(strings.NewReader(content)), "")
}

func (p *Parser) parse(scanner *bufio.Scanner, defaultName string) ([]Suite, error) {
	var suites []Suite
	var suite *Suite
	var test *Test
	lineNum := 0

	flushTest := func() {
		if test != nil {
			suite.Tests = append(suite.Tests, *test)
			test = nil
		}
	}
	flushSuite := func() {
		flushTest()
		if suite != nil {
			suites = append(suites, *suite)
			suite = nil
		}
	}

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		args, err := split(line)
		if err != nil {
			return nil, &Error{Line: lineNum, Msg: err.Error()}
		}
		keyword := args[0].Value

		switch {
		case keyword == "suite":
			flushSuite()
			s, err := parseSuiteLine(args[1:])
			if err != nil {
				return nil, &Error{Line: lineNum, Msg: err.Error()}
			}
			s.Line = lineNum
			suite = s

		case keyword == "test":
			if len(args) != 2 {
				return nil, &Error{Line: lineNum, Msg: "test requires a name"}
			}
			if suite == nil {
				suite = &Suite{Name: defaultName, Line: lineNum}
			}
			flushTest()
			test = &Test{Name: args[1].Value, Line: lineNum}

		case keyword == "viewport" && test == nil:
			if suite == nil {
				suite = &Suite{Name: defaultName, Line: lineNum}
			}
			w, h, err := parseViewport(args[1:])
			if err != nil {
				return nil, &Error{Line: lineNum, Msg: err.Error()}
			}
			suite.Width, suite.Height = w, h

		default:
			if test == nil {
				return nil, &Error{Line: lineNum, Msg: fmt.Sprintf("%s outside of a test", keyword)}
			}
			step, err := parseStep(args)
			if err != nil {
				return nil, &Error{Line: lineNum, Msg: err.Error()}
			}
			step.Line = lineNum
			test.Steps = append(test.Steps, step)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flushSuite()
	return suites, nil
}

func parseSuiteLine(args []Arg) (*Suite, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, fmt.Errorf("suite requires a name and an optional mode")
	}
	s := &Suite{Name: args[0].Value}
	if len(args) == 2 {
		switch args[1].Value {
		case "parallel":
			s.Parallel = true
		case "serial":
		default:
			return nil, fmt.Errorf("unknown suite mode: %s", args[1].Value)
		}
	}
	return s, nil
}

func parseViewport(args []Arg) (int, int, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("viewport requires a width and a height")
	}
	w, err := strconv.Atoi(args[0].Value)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid viewport width: %s", args[0].Value)
	}
	h, err := strconv.Atoi(args[1].Value)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid viewport height: %s", args[1].Value)
	}
	return w, h, nil
}

func parseStep(args []Arg) (Step, error) {
	keyword := args[0].Value
	if keyword == "expect" || keyword == "soft" {
		if len(args) < 2 {
			return Step{}, fmt.Errorf("%s requires an assertion", keyword)
		}
		step := Step{Action: args[1].Value, Soft: keyword == "soft", Args: args[2:]}
		a, ok := assertions[step.Action]
		if !ok {
			return Step{}, fmt.Errorf("unknown assertion: %s", step.Action)
		}
		if err := checkArity(step.Action, a, step.Args); err != nil {
			return Step{}, err
		}
		return step, checkAssertion(step)
	}

	a, ok := actions[keyword]
	if !ok {
		return Step{}, fmt.Errorf("unknown action: %s", keyword)
	}
	step := Step{Action: keyword, Args: args[1:]}
	if err := checkArity(keyword, a, step.Args); err != nil {
		return Step{}, err
	}
	switch keyword {
	case "viewport":
		if _, _, err := parseViewport(step.Args); err != nil {
			return Step{}, err
		}
	case "eyes_check":
		if _, err := ParseCheckModifiers(step.Args[1:]); err != nil {
			return Step{}, err
		}
	case "eyes_close":
		if len(step.Args) == 1 && step.Args[0].Value != "throw" {
			return Step{}, fmt.Errorf("eyes_close accepts only throw")
		}
	}
	return step, nil
}

func checkArity(name string, a arity, args []Arg) error {
	n := len(args)
	switch {
	case a.max < 0 && n < a.min:
		return fmt.Errorf("%s requires at least %d arguments, got %d", name, a.min, n)
	case a.max >= 0 && (n < a.min || n > a.max):
		if a.min == a.max {
			return fmt.Errorf("%s requires %d arguments, got %d", name, a.min, n)
		}
		return fmt.Errorf("%s takes %d to %d arguments, got %d", name, a.min, a.max, n)
	}
	return nil
}

func checkAssertion(step Step) error {
	switch step.Action {
	case "count":
		if _, err := strconv.Atoi(step.Args[1].Value); err != nil {
			return fmt.Errorf("count expects a number, got %s", step.Args[1].Value)
		}
	case "contain_text", "match_text":
		if step.Args[1].Pattern {
			if _, err := regexp.Compile(step.Args[1].Value); err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
		} else if step.Action == "match_text" {
			return fmt.Errorf("match_text expects a /pattern/")
		}
	}
	return nil
}

// CheckModifiers are the optional words after an eyes_check name.
type CheckModifiers struct {
	Fully  bool
	Layout bool
	Region string
}

func ParseCheckModifiers(args []Arg) (CheckModifiers, error) {
	var m CheckModifiers
	for i := 0; i < len(args); i++ {
		switch args[i].Value {
		case "fully":
			m.Fully = true
		case "layout":
			m.Layout = true
		case "strict":
			m.Layout = false
		case "region":
			if i+1 >= len(args) {
				return m, fmt.Errorf("region requires a selector")
			}
			i++
			m.Region = args[i].Value
		default:
			return m, fmt.Errorf("unknown eyes_check option: %s", args[i].Value)
		}
	}
	return m, nil
}
