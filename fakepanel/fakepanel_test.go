package fakepanel

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/ultrasync/panel"
	"github.com/st-keller/ultrasync/xmlvalue"
)

func post(t *testing.T, srv *httptest.Server, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := http.PostForm(srv.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func login(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	_, body := post(t, srv, "/login.cgi", url.Values{"lgname": {"User 1"}, "lgpin": {"1234"}})
	state, err := panel.ParseLogin(body)
	require.NoError(t, err)
	return state.Session
}

func TestLogin(t *testing.T) {
	p := New(Options{AreaNames: []string{"Home", "!"}})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	_, body := post(t, srv, "/login.cgi", url.Values{"lgname": {"User 1"}, "lgpin": {"0000"}})
	assert.True(t, xmlvalue.IsSentinel(body))

	_, body = post(t, srv, "/login.cgi", url.Values{"lgname": {"User 1"}, "lgpin": {"1234"}})
	state, err := panel.ParseLogin(body)
	require.NoError(t, err)
	assert.Equal(t, p.Session(), state.Session)
	assert.Len(t, state.Session, 16)
	assert.Equal(t, []int{0}, state.AreaSequences)
	assert.Equal(t, "1", state.AreaStatus[2])
	assert.Equal(t, panel.Names{"Home", "!"}, state.AreaNames)
}

func TestZonesPage(t *testing.T) {
	p := New(Options{})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	sess := login(t, srv)

	p.SetZoneState(2, panel.ZoneAlarm, true)
	_, body := post(t, srv, "/user/zones.htm", url.Values{"sess": {sess}})

	state, err := panel.ParseZones(body)
	require.NoError(t, err)
	assert.Equal(t, "Front door", state.ZoneNames[0])
	assert.Len(t, state.ZoneStatus, 8)
	assert.Equal(t, 1, state.ZoneSequences[panel.ZoneAlarm])
	assert.Equal(t, "2", state.ZoneStatus[panel.ZoneAlarm][0])
}

func TestExpiredSession(t *testing.T) {
	p := New(Options{})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	sess := login(t, srv)

	status, body := post(t, srv, "/user/seq.xml", url.Values{"sess": {sess}})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", xmlvalue.Extract(body, "areas"))

	p.Expire()
	status, body = post(t, srv, "/user/seq.xml", url.Values{"sess": {sess}})
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, xmlvalue.IsSentinel(body))

	p.SetExpiredStatus(http.StatusForbidden)
	status, _ = post(t, srv, "/user/seq.xml", url.Values{"sess": {sess}})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, 3, p.Hits("/user/seq.xml"))
}

func TestKeyFunction(t *testing.T) {
	p := New(Options{AreaNames: []string{"A", "B"}})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	sess := login(t, srv)

	form, _ := url.ParseQuery("sess=" + sess + "&" + panel.KeyFunction(2, panel.FuncAway))
	_, body := post(t, srv, panel.KeyFunctionPath, form)

	assert.Equal(t, "0", xmlvalue.Extract(body, "abank"))
	assert.Equal(t, "1", xmlvalue.Extract(body, "aseq"))
	assert.Equal(t, "2", xmlvalue.Extract(body, "stat0"))
	assert.True(t, p.AreaField(2, 0))
	assert.False(t, p.AreaField(1, 0))

	form, _ = url.ParseQuery("sess=" + sess + "&" + panel.KeyFunction(panel.AllAreas, panel.FuncDisarm))
	post(t, srv, panel.KeyFunctionPath, form)
	assert.False(t, p.AreaField(2, 0))
}

func TestZoneFunctionTogglesBypass(t *testing.T) {
	p := New(Options{})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	sess := login(t, srv)

	form, _ := url.ParseQuery("sess=" + sess + "&" + panel.BypassZone(3))
	_, body := post(t, srv, panel.ZoneFunctionPath, form)
	assert.Equal(t, "3", xmlvalue.Extract(body, "zstate"))
	assert.Equal(t, "4", strings.Split(xmlvalue.Extract(body, "zdat"), ",")[0])
	assert.True(t, p.ZoneState(3, panel.ZoneBypass))

	post(t, srv, panel.ZoneFunctionPath, form)
	assert.False(t, p.ZoneState(3, panel.ZoneBypass))
}

func TestLogout(t *testing.T) {
	p := New(Options{})
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	sess := login(t, srv)

	post(t, srv, "/logout.cgi", url.Values{"sess": {sess}})
	assert.Equal(t, "", p.Session())
}
