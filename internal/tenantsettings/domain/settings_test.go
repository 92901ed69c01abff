package domain

import "testing"

func TestConfigured(t *testing.T) {
	if (MirrorSettings{ChannelID: "123"}).Configured() {
		t.Error("mirror without write key should not be configured")
	}
	if !(MirrorSettings{ChannelID: "123", WriteKey: "KEY"}).Configured() {
		t.Error("mirror with channel and key should be configured")
	}
	if (SMSSettings{Provider: ProviderSMSLocal, Destination: "  "}).Configured() {
		t.Error("sms with blank destination should not be configured")
	}
	if (SMSSettings{Destination: "+15550100"}).Configured() {
		t.Error("sms without provider should not be configured")
	}
	if !(SMSSettings{Provider: ProviderTwilio, Destination: "+15550100"}).Configured() {
		t.Error("sms with provider and destination should be configured")
	}
}
