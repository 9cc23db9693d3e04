package models

import (
	"reflect"
	"strings"
	"testing"
)

func gormTag(t *testing.T, field string) string {
	t.Helper()
	f, ok := reflect.TypeOf(Client{}).FieldByName(field)
	if !ok {
		t.Fatalf("Client has no field %q", field)
	}
	return f.Tag.Get("gorm")
}

// Two businesses connected to the same provider tenant legitimately import
// the same contact UUID, so the provider-contact index must be scoped per
// business, like the email one.
func TestClientProviderContactIndexScopedPerBusiness(t *testing.T) {
	biz := gormTag(t, "BusinessId")
	contact := gormTag(t, "ProviderContactId")

	if !strings.Contains(biz, "uniqueIndex:idx_clients_provider_contact,priority:1") {
		t.Fatalf("business_id does not lead idx_clients_provider_contact: %q", biz)
	}
	if !strings.Contains(contact, "uniqueIndex:idx_clients_provider_contact,priority:2") {
		t.Fatalf("provider_contact_id is not the second index column: %q", contact)
	}
}

func TestClientEmailIndexScopedPerBusiness(t *testing.T) {
	biz := gormTag(t, "BusinessId")
	email := gormTag(t, "Email")

	if !strings.Contains(biz, "uniqueIndex:idx_clients_email,priority:1") {
		t.Fatalf("business_id does not lead idx_clients_email: %q", biz)
	}
	if !strings.Contains(email, "uniqueIndex:idx_clients_email,priority:2") {
		t.Fatalf("email is not the second index column: %q", email)
	}
}
