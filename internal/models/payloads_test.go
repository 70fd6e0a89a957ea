package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeExportRequestEnvelope(t *testing.T) {
	raw := []byte(`{"reference":"Q-17","data":"{\"requestNumberServiceNow\":\"RITM0012345\",\"patient_cpr\":\"123456-7890\",\"callerEmail\":\"a@b.dk\",\"callerName\":\"Anne\"}"}`)

	req, err := DecodeExportRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "Q-17", req.QueueReference)
	assert.Equal(t, "RITM0012345", req.CaseRef)
	assert.Equal(t, "1234567890", req.SubjectKey())
	assert.Equal(t, DeliveryRequest{Recipient: "a@b.dk", CaseRef: "RITM0012345", CallerName: "Anne"}, req.Delivery())
}

func TestDecodeExportRequestBareObject(t *testing.T) {
	req, err := DecodeExportRequest([]byte(`{"requestNumberServiceNow":"RITM1","patient_cpr":" 010203-4455 "}`))
	require.NoError(t, err)
	assert.Empty(t, req.QueueReference)
	assert.Equal(t, "0102034455", req.SubjectKey())
}

func TestDecodeExportRequestRejectsGarbage(t *testing.T) {
	_, err := DecodeExportRequest([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeExportRequest([]byte(`{}`))
	assert.Error(t, err)

	_, err = DecodeExportRequest([]byte(`{"data":"{broken"}`))
	assert.Error(t, err)
}

func TestDisplayNameJoinsNonEmptyFragmentsInOrder(t *testing.T) {
	cases := []struct {
		row  PersonRow
		want string
	}{
		{PersonRow{FirstName: "Anne", LastName: "Hansen"}, "Anne Hansen"},
		{PersonRow{FirstName: "Anne", SecondName: "Marie", ThirdName: "Kjær", LastName: "Hansen"}, "Anne Marie Kjær Hansen"},
		{PersonRow{ThirdName: "Kjær", LastName: "Hansen"}, "Kjær Hansen"},
		{PersonRow{FirstName: "  ", LastName: "Hansen"}, "Hansen"},
		{PersonRow{}, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.row.DisplayName())
	}
}
