package signature

import (
	"testing"
)

const (
	knownMessage   = "I solemnly swear that I am up to some good. Hotkey: 5Eq1FDc9oz1tTm4MqGLdH4ajgz9eMgQ5To812axojN121DiQ"
	knownSignature = "8ee4ce50165f23b739ec55c2beeafcd273685819c32470df26b0641d15593d3b08b8aef7c391f01e7c2e34c2ee12b80df0c4b615cc0d0966be0dc81192bbc286"
	knownAddress   = "5Eq1FDc9oz1tTm4MqGLdH4ajgz9eMgQ5To812axojN121DiQ"
)

func TestSignatureVerification(t *testing.T) {
	for _, sig := range []string{knownSignature, "0x" + knownSignature} {
		ok, err := Verify(knownMessage, sig, knownAddress)
		if err != nil {
			t.Fatalf("Verification failed: %v", err)
		}
		if !ok {
			t.Errorf("Expected signature %q to be valid", sig[:8])
		}
	}
}

func TestSignatureVerificationFail(t *testing.T) {
	t.Run("tampered message", func(t *testing.T) {
		ok, _ := Verify(knownMessage+".", knownSignature, knownAddress)
		if ok {
			t.Error("Expected verification to fail")
		}
	})

	t.Run("invalid hex", func(t *testing.T) {
		ok, err := Verify("test message", "zz"+knownSignature[2:], knownAddress)
		if err == nil {
			t.Error("Expected error for non-hex signature")
		}
		if ok {
			t.Error("Expected verification to fail")
		}
	})

	t.Run("invalid signature length", func(t *testing.T) {
		ok, err := Verify("test message", knownSignature[:64], knownAddress)
		if err == nil {
			t.Error("Expected error for short signature")
		}
		if ok {
			t.Error("Expected verification to fail")
		}
	})

	t.Run("invalid SS58 address", func(t *testing.T) {
		ok, err := Verify("test message", knownSignature, "invalid-address")
		if err == nil {
			t.Error("Expected error for invalid SS58 address")
		}
		if ok {
			t.Error("Expected verification to fail")
		}
	})
}
