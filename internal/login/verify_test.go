package login_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/login"
)

func newTestVerifier(t *testing.T) *login.Verifier {
	return login.NewVerifier(zaptest.NewLogger(t), loginButton, login.NewCandidates("", userMenu), time.Second, 0)
}

var harvested = []schemas.CookieRecord{
	{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/"},
	{Name: "broken", Value: "x", Domain: "", Path: "/"},
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		visible []string
		want    bool
	}{
		{name: "no login affordance", want: true},
		{name: "indicator alongside affordance", visible: []string{loginButton, userMenu}, want: true},
		{name: "affordance only", visible: []string{loginButton}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage(tt.visible...)
			page.rejectCookie["broken"] = true
			opener := &fakeOpener{page: page}

			got := newTestVerifier(t).Verify(context.Background(), opener, harvested, "https://app.example.com/")
			assert.Equal(t, tt.want, got)
			assert.Len(t, page.applied, 1, "rejected cookies are skipped")
			assert.Equal(t, []string{"navigate:https://app.example.com/"}, page.Calls())
		})
	}
}

func TestVerify_FailuresReportFalse(t *testing.T) {
	v := newTestVerifier(t)

	assert.False(t, v.Verify(context.Background(), &fakeOpener{err: errors.New("launch failed")}, harvested, "https://app.example.com/"))

	page := newFakePage()
	page.navErr = errors.New("net::ERR_CONNECTION_REFUSED")
	assert.False(t, v.Verify(context.Background(), &fakeOpener{page: page}, harvested, "https://app.example.com/"))
}
