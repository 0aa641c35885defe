package rowops

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"strings"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
)

// DecodePayload turns a wire-format recordData value — either a JSON
// object or the minimal XML grammar described for this server's
// incremental path — into a flat column->value map. When the XML carries
// both a <new> and an <old> section, the <old> section's keys are merged
// in with an "old_" prefix, giving the dispatcher the pre-image it needs
// to build UPDATE/DELETE predicates.
func DecodePayload(raw string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, apperr.NewValidationError("payload", "empty payload")
	}

	if strings.HasPrefix(trimmed, "<") {
		flat, err := decodeXMLPayload(trimmed)
		if err != nil {
			return nil, apperr.NewValidationError("payload", "malformed XML: "+err.Error())
		}
		return flat, nil
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return nil, apperr.NewValidationError("payload", "malformed JSON: "+err.Error())
	}
	return data, nil
}

// decodeXMLPayload flattens the minimal envelope grammar: at top level a
// sequence of <tag>value</tag> pairs becomes a map; if <new> and <old>
// wrapper elements are present, each is flattened independently and the
// <old> map's keys are re-emitted with an "old_" prefix into the result.
func decodeXMLPayload(raw string) (map[string]interface{}, error) {
	dec := xml.NewDecoder(strings.NewReader(raw))

	result := make(map[string]interface{})
	var currentPrefix string
	var currentTag string
	var currentText strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if name == "new" || name == "old" {
				currentPrefix = ""
				if name == "old" {
					currentPrefix = "old_"
				}
				continue
			}
			currentTag = name
			currentText.Reset()
		case xml.CharData:
			if currentTag != "" {
				currentText.Write(t)
			}
		case xml.EndElement:
			name := t.Name.Local
			if name == "new" || name == "old" {
				currentPrefix = ""
				continue
			}
			if currentTag == name {
				result[currentPrefix+currentTag] = strings.TrimSpace(currentText.String())
				currentTag = ""
				currentText.Reset()
			}
		}
	}

	return result, nil
}
