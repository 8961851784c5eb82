package agent

import "strings"

// citationFilter splits a token stream into answer text and [[id]] citation
// markers. Markers can be cut anywhere by chunk boundaries, so incomplete
// tails are buffered until the next chunk or Flush decides them.
type citationFilter struct {
	buffer string
}

// Consume processes one chunk, invoking onText for answer text and
// onCitation for each complete citation id. Text inside malformed markers is
// passed through unchanged.
func (f *citationFilter) Consume(
	chunk string,
	onText func(string) error,
	onCitation func(string) error,
) error {
	f.buffer += chunk

	emit := func(text string) error {
		if text == "" {
			return nil
		}
		return onText(text)
	}

	for {
		start := strings.Index(f.buffer, "[[")
		if start == -1 {
			// A single trailing bracket may be the start of a marker.
			if strings.HasSuffix(f.buffer, "[") {
				if err := emit(f.buffer[:len(f.buffer)-1]); err != nil {
					return err
				}
				f.buffer = "["
				return nil
			}
			if err := emit(f.buffer); err != nil {
				return err
			}
			f.buffer = ""
			return nil
		}

		if start > 0 {
			if err := emit(f.buffer[:start]); err != nil {
				return err
			}
			f.buffer = f.buffer[start:]
		}

		end := strings.Index(f.buffer[2:], "]]")
		if end == -1 {
			// Marker still open; wait for more input.
			return nil
		}
		end += 2

		id := f.buffer[2:end]
		if isCitationID(id) {
			if err := onCitation(id); err != nil {
				return err
			}
			f.buffer = f.buffer[end+2:]
			continue
		}

		// Not a citation after all; release one bracket and rescan.
		if err := emit(f.buffer[:1]); err != nil {
			return err
		}
		f.buffer = f.buffer[1:]
	}
}

// Flush releases whatever is still buffered as plain text.
func (f *citationFilter) Flush(onText func(string) error) error {
	if f.buffer == "" {
		return nil
	}
	if err := onText(f.buffer); err != nil {
		return err
	}
	f.buffer = ""
	return nil
}

// isCitationID accepts the nanoid alphabet used for document public ids.
func isCitationID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
