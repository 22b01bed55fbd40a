package storytree

import "encoding/json"

func marshalDocument(d document) ([]byte, error) {
	return json.Marshal(d)
}

func unmarshalDocument(data []byte) (document, error) {
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return document{}, err
	}
	return d, nil
}
