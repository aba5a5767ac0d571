package rigol

import (
	"strconv"
	"strings"
	"unicode"
)

// Command is a single SCPI program message.  Header is the long form
// mnemonic path, e.g. ":WAVeform:STARt", with the short form in capitals.
type Command struct {
	Header string
	Query  bool
	Args   []string
}

// Set builds a setting command
func Set(header string, args ...interface{}) Command {
	return Command{Header: header, Args: formatArgs(args)}
}

// Query builds a query, the trailing ? is added by Encode
func Query(header string, args ...interface{}) Command {
	return Command{Header: header, Query: true, Args: formatArgs(args)}
}

func formatArgs(args []interface{}) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			out[i] = v
		case int:
			out[i] = strconv.Itoa(v)
		case float64:
			out[i] = strconv.FormatFloat(v, 'G', -1, 64)
		case bool:
			if v {
				out[i] = "ON"
			} else {
				out[i] = "OFF"
			}
		case Source:
			out[i] = v.String()
		default:
			panic("rigol: unsupported command argument type")
		}
	}
	return out
}

// Encode renders the command for the wire, without terminator
func (c Command) Encode() string {
	var b strings.Builder
	b.WriteString(c.Header)
	if c.Query {
		b.WriteByte('?')
	}
	if len(c.Args) > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Join(c.Args, ","))
	}
	return b.String()
}

func (c Command) String() string { return c.Encode() }

// ShortForm reduces a mnemonic path to its upper case short form using the
// IEEE 488.2 rule: mnemonics longer than four letters keep four, or three if
// the fourth is a vowel.  Numeric suffixes are kept.  ":WAVeform:STARt",
// ":WAV:STAR" and ":wav:start" all give ":WAV:STAR".
func ShortForm(header string) string {
	parts := strings.Split(strings.ToUpper(header), ":")
	for i, p := range parts {
		if strings.HasPrefix(p, "*") {
			continue
		}
		word := strings.TrimRightFunc(p, unicode.IsDigit)
		suffix := p[len(word):]
		if len(word) > 4 {
			if strings.ContainsRune("AEIOU", rune(word[3])) {
				word = word[:3]
			} else {
				word = word[:4]
			}
		}
		parts[i] = word + suffix
	}
	return strings.Join(parts, ":")
}

// Source is a waveform or trigger source, an analog channel 1-4
type Source int

func (s Source) String() string {
	return "CHANnel" + strconv.Itoa(int(s))
}

// channel validates ch and returns it as a Source
func channel(ch int) (Source, error) {
	if ch < 1 || ch > Channels {
		return 0, ErrBadChannel
	}
	return Source(ch), nil
}

// parseSource reads a source back from the scope, e.g. CHAN1 or CHANnel1
func parseSource(s string) (Source, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "CHANNEL")
	s = strings.TrimPrefix(s, "CHAN")
	i, err := strconv.Atoi(s)
	if err != nil || i < 1 || i > Channels {
		return 0, false
	}
	return Source(i), true
}
