package rowops

import "testing"

func TestDecodePayload_JSON(t *testing.T) {
	got, err := DecodePayload(`{"ItemCode":"M1","Description1":"a"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["ItemCode"] != "M1" || got["Description1"] != "a" {
		t.Errorf("unexpected decode result: %v", got)
	}
}

func TestDecodePayload_XMLFlat(t *testing.T) {
	got, err := DecodePayload("<ItemCode>M1</ItemCode><Description1>a</Description1>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["ItemCode"] != "M1" || got["Description1"] != "a" {
		t.Errorf("unexpected decode result: %v", got)
	}
}

func TestDecodePayload_XMLNewOldEnvelope(t *testing.T) {
	raw := "<new><ItemCode>M1</ItemCode><Description1>b</Description1></new><old><ItemCode>M1</ItemCode></old>"
	got, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]interface{}{
		"ItemCode":     "M1",
		"Description1": "b",
		"old_ItemCode": "M1",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("key %q: got %v, want %v", k, got[k], v)
		}
	}
}

func TestDecodePayload_EmptyIsRejected(t *testing.T) {
	if _, err := DecodePayload("   "); err == nil {
		t.Error("expected an error for an empty payload")
	}
}

func TestDecodePayload_MalformedXMLIsRejected(t *testing.T) {
	if _, err := DecodePayload("<ItemCode>M1</Wrong>"); err == nil {
		t.Error("expected an error for malformed XML")
	}
}

func TestDecodePayload_MalformedJSONIsRejected(t *testing.T) {
	if _, err := DecodePayload("{not valid json"); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}
