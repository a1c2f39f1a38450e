package netservice

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

func TestRequestRegistryResolveBlocks(t *testing.T) {
	r := newRequestRegistry()
	reply := make(chan blocksResult, 1)
	r.registerBlocks(1, reply, time.Now())

	r.resolve(chainnet.RequestResult{SubstreamID: 1, Kind: chainnet.RequestKindBlocks, BlocksResult: []byte("data")})

	res := <-reply
	require.Equal(t, []byte("data"), res.data)
	require.NoError(t, res.err)
	require.NotContains(t, r.blocks, chainnet.SubstreamId(1))
}

func TestRequestRegistryResolveCarriesError(t *testing.T) {
	r := newRequestRegistry()
	reply := make(chan warpSyncResult, 1)
	r.registerWarpSync(7, reply, time.Now())

	wantErr := errors.New("boom")
	r.resolve(chainnet.RequestResult{SubstreamID: 7, Kind: chainnet.RequestKindWarpSync, Err: wantErr})

	res := <-reply
	require.Equal(t, wantErr, res.err)
}

func TestRequestRegistryResolveUnknownSubstreamIsNoop(t *testing.T) {
	r := newRequestRegistry()
	require.NotPanics(t, func() {
		r.resolve(chainnet.RequestResult{SubstreamID: 99, Kind: chainnet.RequestKindStorageProof})
	})
}

func TestRequestRegistryFindNodeDoesNotLeak(t *testing.T) {
	r := newRequestRegistry()
	r.registerFindNode(3, testChain)
	require.Contains(t, r.findNode, chainnet.SubstreamId(3))

	r.resolve(chainnet.RequestResult{SubstreamID: 3, Kind: chainnet.RequestKindFindNode})
	require.NotContains(t, r.findNode, chainnet.SubstreamId(3))
}

func TestRequestRegistryEachKindIndependentlyKeyed(t *testing.T) {
	r := newRequestRegistry()
	blocksReply := make(chan blocksResult, 1)
	callProofReply := make(chan callProofResult, 1)
	r.registerBlocks(1, blocksReply, time.Now())
	r.registerCallProof(1, callProofReply, time.Now())

	r.resolve(chainnet.RequestResult{SubstreamID: 1, Kind: chainnet.RequestKindCallProof, CallProofResult: []byte("proof")})

	select {
	case <-blocksReply:
		t.Fatal("blocks slot should not have been fulfilled by a call-proof result sharing the same substream ID")
	default:
	}
	res := <-callProofReply
	require.Equal(t, []byte("proof"), res.data)
}
