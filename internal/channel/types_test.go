package channel

import "testing"

func TestMessageIsEmpty(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		msg  Message
		want bool
	}{
		{name: "blank", msg: Message{}, want: true},
		{name: "whitespace text", msg: Message{Text: "   "}, want: true},
		{name: "text", msg: Message{Text: "hi"}, want: false},
		{name: "media only", msg: Message{MediaURL: "https://example.com/a.png"}, want: false},
		{name: "mentions only", msg: Message{Mentions: []string{"ou_1"}}, want: true},
	}
	for _, tc := range cases {
		if got := tc.msg.IsEmpty(); got != tc.want {
			t.Fatalf("%s: IsEmpty = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSendResultDegraded(t *testing.T) {
	t.Parallel()

	if (SendResult{Status: DeliveryDelivered}).Degraded() {
		t.Fatalf("delivered result must not report degraded")
	}
	if !(SendResult{Status: DeliveryDegraded, MessageID: WebhookSentMessageID}).Degraded() {
		t.Fatalf("degraded result must report degraded")
	}
}
