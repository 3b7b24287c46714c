package streamctl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
	"github.com/waystellar/argusv4-sub001/pkg/redis"
)

func testController(t *testing.T) *Controller {
	t.Helper()
	return New(nil, logging.NewLogger())
}

func TestHappyPathStartThenStop(t *testing.T) {
	ctx := context.Background()
	c := testController(t)

	// Unknown vehicles start disconnected; a heartbeat brings them up.
	if st := c.Status("veh-1"); st.State != StateDisconnected {
		t.Fatalf("initial state = %s, want DISCONNECTED", st.State)
	}
	if cmd := c.Heartbeat(ctx, "veh-1"); cmd != nil {
		t.Fatalf("fresh vehicle has pending command %+v", cmd)
	}
	if st := c.Status("veh-1"); st.State != StateIdle {
		t.Fatalf("state after heartbeat = %s, want IDLE", st.State)
	}

	cmd, err := c.Start(ctx, "veh-1", "cam-front")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if cmd.Action != models.StreamActionStart || cmd.SourceID != "cam-front" {
		t.Fatalf("start command = %+v", cmd)
	}
	if cmd.CommandID == "" {
		t.Fatal("start command has no id")
	}
	if st := c.Status("veh-1"); st.State != StateStarting {
		t.Fatalf("state after start = %s, want STARTING", st.State)
	}

	// The command rides the next heartbeat.
	pending := c.Heartbeat(ctx, "veh-1")
	if pending == nil || pending.CommandID != cmd.CommandID {
		t.Fatalf("heartbeat pending = %+v, want command %s", pending, cmd.CommandID)
	}

	if err := c.Ack(ctx, "veh-1", models.StreamAck{CommandID: cmd.CommandID, Success: true}); err != nil {
		t.Fatalf("ack start: %v", err)
	}
	if st := c.Status("veh-1"); st.State != StateStreaming || st.PendingCommand != nil {
		t.Fatalf("state after start ack = %+v", st)
	}

	stopCmd, err := c.Stop(ctx, "veh-1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st := c.Status("veh-1"); st.State != StateStopping {
		t.Fatalf("state after stop = %s, want STOPPING", st.State)
	}
	if err := c.Ack(ctx, "veh-1", models.StreamAck{CommandID: stopCmd.CommandID, Success: true}); err != nil {
		t.Fatalf("ack stop: %v", err)
	}
	if st := c.Status("veh-1"); st.State != StateIdle {
		t.Fatalf("state after stop ack = %s, want IDLE", st.State)
	}
}

func TestStartRequiresIdle(t *testing.T) {
	ctx := context.Background()
	c := testController(t)

	if _, err := c.Start(ctx, "veh-1", "cam"); err == nil {
		t.Fatal("start from DISCONNECTED succeeded")
	}

	c.Heartbeat(ctx, "veh-1")
	if _, err := c.Start(ctx, "veh-1", "cam"); err != nil {
		t.Fatalf("start from IDLE: %v", err)
	}
	if _, err := c.Start(ctx, "veh-1", "cam"); err == nil {
		t.Fatal("double start succeeded")
	}
}

func TestStopFromStartingCancels(t *testing.T) {
	ctx := context.Background()
	c := testController(t)
	c.Heartbeat(ctx, "veh-1")

	if _, err := c.Start(ctx, "veh-1", "cam"); err != nil {
		t.Fatalf("start: %v", err)
	}
	stopCmd, err := c.Stop(ctx, "veh-1")
	if err != nil {
		t.Fatalf("stop while starting: %v", err)
	}
	// Only the newest command is live; the superseded start no longer acks.
	if pending := c.Heartbeat(ctx, "veh-1"); pending.CommandID != stopCmd.CommandID {
		t.Fatalf("pending = %s, want the stop command", pending.CommandID)
	}
}

func TestFailedAckEntersError(t *testing.T) {
	ctx := context.Background()
	c := testController(t)
	c.Heartbeat(ctx, "veh-1")

	cmd, err := c.Start(ctx, "veh-1", "cam")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Ack(ctx, "veh-1", models.StreamAck{CommandID: cmd.CommandID, Error: "encoder offline"}); err != nil {
		t.Fatalf("ack: %v", err)
	}

	st := c.Status("veh-1")
	if st.State != StateError || st.Reason != "encoder offline" {
		t.Fatalf("state after failed ack = %+v", st)
	}
	if _, err := c.Stop(ctx, "veh-1"); err == nil {
		t.Fatal("stop from ERROR succeeded")
	}
}

func TestAckUnknownCommandRejected(t *testing.T) {
	ctx := context.Background()
	c := testController(t)
	c.Heartbeat(ctx, "veh-1")

	if err := c.Ack(ctx, "veh-1", models.StreamAck{CommandID: "nope", Success: true}); err == nil {
		t.Fatal("ack with no pending command succeeded")
	}

	cmd, _ := c.Start(ctx, "veh-1", "cam")
	if err := c.Ack(ctx, "veh-1", models.StreamAck{CommandID: "other", Success: true}); err == nil {
		t.Fatal("ack with mismatched command id succeeded")
	}
	if err := c.Ack(ctx, "veh-1", models.StreamAck{CommandID: cmd.CommandID, Success: true}); err != nil {
		t.Fatalf("ack with matching id: %v", err)
	}
}

func TestRetryUsesHeartbeatRecency(t *testing.T) {
	ctx := context.Background()
	c := testController(t)

	// Recently heartbeating vehicle returns to IDLE.
	c.Heartbeat(ctx, "veh-1")
	cmd, _ := c.Start(ctx, "veh-1", "cam")
	c.Ack(ctx, "veh-1", models.StreamAck{CommandID: cmd.CommandID, Error: "boom"})
	next, err := c.Retry(ctx, "veh-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if next != StateIdle {
		t.Fatalf("retry with fresh heartbeat = %s, want IDLE", next)
	}

	// A silent vehicle goes to DISCONNECTED instead.
	c.Heartbeat(ctx, "veh-2")
	cmd2, _ := c.Start(ctx, "veh-2", "cam")
	c.Ack(ctx, "veh-2", models.StreamAck{CommandID: cmd2.CommandID, Error: "boom"})
	c.mu.Lock()
	c.vehicles["veh-2"].lastHeartbeat = time.Now().Add(-time.Minute)
	c.mu.Unlock()
	next, err = c.Retry(ctx, "veh-2")
	if err != nil {
		t.Fatalf("retry stale: %v", err)
	}
	if next != StateDisconnected {
		t.Fatalf("retry with stale heartbeat = %s, want DISCONNECTED", next)
	}

	// Retry only applies to ERROR.
	if _, err := c.Retry(ctx, "veh-1"); err == nil {
		t.Fatal("retry from IDLE succeeded")
	}
}

func TestTimeoutPollerExpiresPendingCommands(t *testing.T) {
	ctx := context.Background()
	c := testController(t)
	c.commandTimeout = 10 * time.Millisecond
	c.Heartbeat(ctx, "veh-1")

	if _, err := c.Start(ctx, "veh-1", "cam"); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	c.expireCommands(ctx)

	st := c.Status("veh-1")
	if st.State != StateError || st.Reason != ReasonEdgeTimeout {
		t.Fatalf("state after timeout = %+v", st)
	}
	if st.PendingCommand != nil {
		t.Fatal("expired command still pending")
	}
}

func TestTransitionsPublishOnStateChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan models.StreamStateChange, 16)
	ps := redis.NewTypedPubSub[models.StreamStateChange](client)
	go func() {
		ps.Subscribe(subCtx, StateChannel, func(change models.StreamStateChange) {
			changes <- change
		})
	}()

	c := New(client, logging.NewLogger())
	ctx := context.Background()

	// The subscriber attaches asynchronously; probe until it is live.
	deadline := time.After(2 * time.Second)
	for attached := false; !attached; {
		c.publish(ctx, "probe", StateIdle, "", "")
		select {
		case <-changes:
			attached = true
		case <-time.After(20 * time.Millisecond):
		}
		select {
		case <-deadline:
			t.Fatal("subscriber never attached")
		default:
		}
	}

	c.Heartbeat(ctx, "veh-1")
	cmd, err := c.Start(ctx, "veh-1", "cam")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	want := []State{StateIdle, StateStarting}
	for _, wantState := range want {
		select {
		case change := <-changes:
			if change.VehicleID != "veh-1" || change.State != string(wantState) {
				t.Fatalf("change = %+v, want state %s", change, wantState)
			}
			if wantState == StateStarting && change.CommandID != cmd.CommandID {
				t.Fatalf("change carries command %s, want %s", change.CommandID, cmd.CommandID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s transition observed", wantState)
		}
	}
}
