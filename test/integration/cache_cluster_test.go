// Package integration exercises a real cacheproxy + cachenode cluster over
// HTTP, built and launched as subprocesses. It covers the literal
// end-to-end scenarios used to validate the cache: write-then-read from
// cache, partition exclusion, add-node rebalancing, chaos-driven health
// pruning, and bypass-cache reads. TTL expiry is not exercised here.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// cluster manages a cacheproxy process and a set of cachenode processes
// built from this module's own cmd/ binaries.
type cluster struct {
	t          *testing.T
	proxyAddr  string
	nodePorts  []int
	proxyCmd   *exec.Cmd
	nodeCmds   map[int]*exec.Cmd
	httpClient *http.Client
	binDir     string
}

func newCluster(t *testing.T, proxyPort int, nodePorts []int) *cluster {
	t.Helper()
	return &cluster{
		t:          t,
		proxyAddr:  fmt.Sprintf("http://127.0.0.1:%d", proxyPort),
		nodePorts:  nodePorts,
		nodeCmds:   make(map[int]*exec.Cmd),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		binDir:     t.TempDir(),
	}
}

func (c *cluster) build() {
	c.t.Helper()
	proxyBin := c.binDir + "/cacheproxy"
	nodeBin := c.binDir + "/cachenode"
	out, err := exec.Command("go", "build", "-o", proxyBin, "./cmd/cacheproxy").CombinedOutput()
	require.NoError(c.t, err, "build cacheproxy: %s", out)
	out, err = exec.Command("go", "build", "-o", nodeBin, "./cmd/cachenode").CombinedOutput()
	require.NoError(c.t, err, "build cachenode: %s", out)
}

func (c *cluster) start() {
	c.t.Helper()
	proxyPort := strings.TrimPrefix(c.proxyAddr, "http://127.0.0.1:")
	dbPath := c.binDir + "/proxy.db"

	c.proxyCmd = exec.Command(c.binDir+"/cacheproxy", "serve",
		"--port", proxyPort, "--db", dbPath, "--chaos-min-interval", "200ms",
		"--chaos-max-interval", "400ms", "--health-check-period", "300ms")
	c.proxyCmd.Stdout = os.Stdout
	c.proxyCmd.Stderr = os.Stderr
	require.NoError(c.t, c.proxyCmd.Start())
	c.waitHealthy(c.proxyAddr + "/health")

	for _, port := range c.nodePorts {
		c.startNode(port)
		c.addNode(port)
	}
}

func (c *cluster) startNode(port int) {
	c.t.Helper()
	cmd := exec.Command(c.binDir+"/cachenode", "serve", "--port", fmt.Sprintf("%d", port), "--capacity", "1000")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	require.NoError(c.t, cmd.Start())
	c.nodeCmds[port] = cmd
	c.waitHealthy(fmt.Sprintf("http://127.0.0.1:%d/health", port))
}

func (c *cluster) addNode(port int) {
	c.t.Helper()
	body, _ := json.Marshal(map[string]any{"host": "127.0.0.1", "port": port})
	resp, err := c.httpClient.Post(c.proxyAddr+"/cluster/add-node", "application/json", strings.NewReader(string(body)))
	require.NoError(c.t, err)
	resp.Body.Close()
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
}

func (c *cluster) waitHealthy(url string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			c.t.Fatalf("timed out waiting for %s", url)
		default:
			resp, err := c.httpClient.Get(url)
			if err == nil && resp.StatusCode == http.StatusOK {
				resp.Body.Close()
				return
			}
			if resp != nil {
				resp.Body.Close()
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (c *cluster) stop() {
	for _, cmd := range c.nodeCmds {
		if cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
	}
	if c.proxyCmd != nil && c.proxyCmd.Process != nil {
		c.proxyCmd.Process.Kill()
		c.proxyCmd.Wait()
	}
}

type putResponse struct {
	Nodes   []string `json:"nodes"`
	Skipped []string `json:"skipped"`
}

type getResponse struct {
	Value  string `json:"value"`
	Source string `json:"source"`
}

func (c *cluster) put(t *testing.T, key, value string, ttl int) putResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"key": key, "value": value, "ttl": ttl})
	resp, err := c.httpClient.Post(c.proxyAddr+"/data", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out putResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (c *cluster) get(t *testing.T, key string, bypass bool) (*http.Response, getResponse) {
	t.Helper()
	url := c.proxyAddr + "/data/" + key
	if bypass {
		url += "?bypass_cache=true"
	}
	resp, err := c.httpClient.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out getResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func requireBinariesBuildable(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping process-level integration test in short mode")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available on PATH")
	}
}

// TestWriteThenReadHitsCache covers scenario S1: a write followed by an
// immediate read is served from the node cache, not the backing store.
func TestWriteThenReadHitsCache(t *testing.T) {
	requireBinariesBuildable(t)
	c := newCluster(t, 18080, []int{18081, 18082, 18083})
	c.build()
	c.start()
	defer c.stop()

	put := c.put(t, "u1", "alice", 20)
	require.Len(t, put.Nodes, 2)

	resp, got := c.get(t, "u1", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alice", got.Value)
	require.Equal(t, "cache", got.Source)
}

// TestBypassCacheReadsBackingStore covers scenario S6: a bypass-cache read
// is satisfied from the backing store rather than from a node. All nodes
// stay up during the test.
func TestBypassCacheReadsBackingStore(t *testing.T) {
	requireBinariesBuildable(t)
	c := newCluster(t, 18090, []int{18091, 18092})
	c.build()
	c.start()
	defer c.stop()

	c.put(t, "k", "v", 60)

	resp, got := c.get(t, "k", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "db", got.Source)
	require.Equal(t, "v", got.Value)
}

// TestPartitionExcludesReplicaFromWriteFanOut covers scenario S3.
func TestPartitionExcludesReplicaFromWriteFanOut(t *testing.T) {
	requireBinariesBuildable(t)
	c := newCluster(t, 18100, []int{18101, 18102, 18103})
	c.build()
	c.start()
	defer c.stop()

	var key string
	var replicas []string
	for i := 0; i < 200; i++ {
		candidate := fmt.Sprintf("probe-%d", i)
		put := c.put(t, candidate, "v", 60)
		if len(put.Nodes) == 2 {
			key = candidate
			replicas = put.Nodes
			break
		}
	}
	require.NotEmpty(t, key)

	sourcePort := strings.TrimPrefix(replicas[0], "127.0.0.1:")
	targetPort := strings.TrimPrefix(replicas[1], "127.0.0.1:")
	resp, err := c.httpClient.Post(c.proxyAddr+"/partition/create?source_port="+sourcePort+"&target_port="+targetPort, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	put := c.put(t, key, "v2", 60)
	require.NotContains(t, put.Nodes, replicas[1])
	require.Contains(t, put.Skipped, replicas[1])
}

// TestAddNodeRebalancesRing covers scenario S4: adding a node joins the
// ring and previously written keys stay readable from the backing store
// through the new membership.
func TestAddNodeRebalancesRing(t *testing.T) {
	requireBinariesBuildable(t)
	c := newCluster(t, 18110, []int{18111, 18112, 18113})
	c.build()
	c.start()
	defer c.stop()

	const n = 300
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k-%d", i)
		c.put(t, key, fmt.Sprintf("v-%d", i), 60)
	}

	mapBefore, err := c.httpClient.Get(c.proxyAddr + "/cluster/map")
	require.NoError(t, err)
	var before struct {
		Nodes []struct{ ID string } `json:"nodes"`
	}
	json.NewDecoder(mapBefore.Body).Decode(&before)
	mapBefore.Body.Close()

	c.startNode(18114)
	c.addNode(18114)

	mapAfter, err := c.httpClient.Get(c.proxyAddr + "/cluster/map")
	require.NoError(t, err)
	var after struct {
		Nodes []struct{ ID string } `json:"nodes"`
	}
	json.NewDecoder(mapAfter.Body).Decode(&after)
	mapAfter.Body.Close()
	require.Greater(t, len(after.Nodes), len(before.Nodes))

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k-%d", i)
		resp, got := c.get(t, key, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, fmt.Sprintf("v-%d", i), got.Value)
	}
}

// TestChaosPrunesExactlyOneNode covers scenario S5.
func TestChaosPrunesExactlyOneNode(t *testing.T) {
	requireBinariesBuildable(t)
	c := newCluster(t, 18120, []int{18121, 18122, 18123, 18124})
	c.build()
	c.start()
	defer c.stop()

	resp, err := c.httpClient.Post(c.proxyAddr+"/chaos/start", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()

	deadline := time.Now().Add(30 * time.Second)
	var nodeCount int
	for time.Now().Before(deadline) {
		mapResp, err := c.httpClient.Get(c.proxyAddr + "/cluster/map")
		require.NoError(t, err)
		var body struct {
			Nodes []struct {
				ID string `json:"ID"`
			} `json:"nodes"`
		}
		json.NewDecoder(mapResp.Body).Decode(&body)
		mapResp.Body.Close()

		ids := map[string]struct{}{}
		for _, n := range body.Nodes {
			ids[n.ID] = struct{}{}
		}
		nodeCount = len(ids)
		if nodeCount < 4 {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.Less(t, nodeCount, 4)
	require.GreaterOrEqual(t, nodeCount, 1)
}
