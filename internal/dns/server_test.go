package dns

import (
	"net"
	"testing"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestExternalBlockStatus(t *testing.T) {
	req := new(mdns.Msg)
	req.SetQuestion("example.com.", mdns.TypeA)

	// 正常应答
	resp := new(mdns.Msg)
	resp.SetReply(req)
	resp.Answer = append(resp.Answer, &mdns.A{
		Hdr: mdns.RR_Header{Name: "example.com.", Rrtype: mdns.TypeA, Class: mdns.ClassINET, Ttl: 300},
		A:   net.ParseIP("93.184.216.34"),
	})
	require.Equal(t, StatusUnknown, externalBlockStatus(resp))

	// 全零地址应答
	nullResp := new(mdns.Msg)
	nullResp.SetReply(req)
	nullResp.Answer = append(nullResp.Answer, &mdns.A{
		Hdr: mdns.RR_Header{Name: "example.com.", Rrtype: mdns.TypeA, Class: mdns.ClassINET, Ttl: 300},
		A:   net.IPv4zero,
	})
	require.Equal(t, StatusExternalBlockedNull, externalBlockStatus(nullResp))

	// 已知拦截页地址
	blockResp := new(mdns.Msg)
	blockResp.SetReply(req)
	blockResp.Answer = append(blockResp.Answer, &mdns.A{
		Hdr: mdns.RR_Header{Name: "example.com.", Rrtype: mdns.TypeA, Class: mdns.ClassINET, Ttl: 300},
		A:   net.ParseIP("146.112.61.106"),
	})
	require.Equal(t, StatusExternalBlockedIP, externalBlockStatus(blockResp))

	// 递归不可用的 NXDOMAIN
	nx := new(mdns.Msg)
	nx.SetRcode(req, mdns.RcodeNameError)
	nx.RecursionAvailable = false
	require.Equal(t, StatusExternalBlockedNXRA, externalBlockStatus(nx))

	// 普通 NXDOMAIN 不算外部拦截
	nx.RecursionAvailable = true
	require.Equal(t, StatusUnknown, externalBlockStatus(nx))
}

func TestUpstreamDialParams(t *testing.T) {
	network, endpoint := upstreamDialParams("1.1.1.1:53")
	require.Equal(t, "udp", network)
	require.Equal(t, "1.1.1.1:53", endpoint)

	network, endpoint = upstreamDialParams("tls://1.1.1.1:853")
	require.Equal(t, "tcp", network)
	require.Equal(t, "1.1.1.1:853", endpoint)
}

func TestClientAddr(t *testing.T) {
	require.Equal(t, "192.168.1.2",
		clientAddr(&net.UDPAddr{IP: net.ParseIP("192.168.1.2"), Port: 40000}))
	require.Equal(t, "::1",
		clientAddr(&net.UDPAddr{IP: net.ParseIP("::1"), Port: 40000}))
}

func TestQueryTypeFromWire(t *testing.T) {
	require.Equal(t, TypeA, QueryTypeFromWire(mdns.TypeA))
	require.Equal(t, TypeAAAA, QueryTypeFromWire(mdns.TypeAAAA))
	require.Equal(t, TypePTR, QueryTypeFromWire(mdns.TypePTR))
	require.Equal(t, QueryType(0), QueryTypeFromWire(mdns.TypeMX))
}

func TestResponseCache(t *testing.T) {
	cfg := &Config{}
	s := NewServer(cfg, NewMemoryLog(), NewGravityManager(cfg))

	req := new(mdns.Msg)
	req.SetQuestion("cached.test.", mdns.TypeA)
	resp := new(mdns.Msg)
	resp.SetReply(req)
	resp.Answer = append(resp.Answer, &mdns.A{
		Hdr: mdns.RR_Header{Name: "cached.test.", Rrtype: mdns.TypeA, Class: mdns.ClassINET, Ttl: 300},
		A:   net.ParseIP("10.1.2.3"),
	})

	_, hit := s.getFromCache("cached.test", mdns.TypeA)
	require.False(t, hit)

	s.setCache("cached.test", mdns.TypeA, resp)
	got, hit := s.getFromCache("cached.test", mdns.TypeA)
	require.True(t, hit)
	require.Len(t, got.Answer, 1)

	// 不同类型是不同缓存键
	_, hit = s.getFromCache("cached.test", mdns.TypeAAAA)
	require.False(t, hit)
}
