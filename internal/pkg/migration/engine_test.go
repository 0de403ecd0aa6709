package migration

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
)

func metaObj(name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{Name: name}
}

type fakeStore struct {
	volumes map[string]*couchestoriov1.Volume
	pools   map[string]*couchestoriov1.Pool

	syncAfter int // number of post-scale-up GetVolume calls before the new replica reports synced
	syncCalls int
	scaledUp  bool

	patchErr      error
	patchErrCount int // fail this many PatchVolumeReplicas calls before succeeding
}

func (f *fakeStore) GetVolume(_ context.Context, name string) (*couchestoriov1.Volume, error) {
	v, ok := f.volumes[name]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := v.DeepCopy()

	if f.scaledUp {
		f.syncCalls++
		if f.syncCalls > f.syncAfter {
			for i := range cp.Status.Replicas {
				if cp.Status.Replicas[i].Pool == "pool-nvme-1" {
					cp.Status.Replicas[i].Online = true
					cp.Status.Replicas[i].Synced = true
				}
			}
			f.volumes[name] = cp
		}
	}
	return cp, nil
}

func (f *fakeStore) GetPool(_ context.Context, name string) (*couchestoriov1.Pool, error) {
	p, ok := f.pools[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return p.DeepCopy(), nil
}

func (f *fakeStore) PatchVolumeReplicas(_ context.Context, volume *couchestoriov1.Volume, replicaCount int32, targetPool string) error {
	if f.patchErrCount > 0 {
		f.patchErrCount--
		return f.patchErr
	}
	v := f.volumes[volume.Name]
	if replicaCount > v.Spec.ReplicaCount {
		f.scaledUp = true
	}
	v.Spec.ReplicaCount = replicaCount
	v.Spec.TargetPool = targetPool
	return nil
}

func (f *fakeStore) AnnotateVolume(_ context.Context, volume *couchestoriov1.Volume, annotations map[string]string) error {
	v := f.volumes[volume.Name]
	if v.Annotations == nil {
		v.Annotations = map[string]string{}
	}
	for k, val := range annotations {
		v.Annotations[k] = val
	}
	return nil
}

func newTestEngine(store ClusterStore) *Engine {
	log := zap.New(zap.UseDevMode(true), zap.StacktraceLevel(zapcore.PanicLevel))
	return NewEngine(store, NewActiveSet(), log)
}

func baseVolume(name string) *couchestoriov1.Volume {
	return &couchestoriov1.Volume{
		ObjectMeta: metaObj(name),
		Spec: couchestoriov1.VolumeSpec{
			SizeBytes:    100,
			ReplicaCount: 1,
			TargetPool:   "pool-sata-1",
		},
		Status: couchestoriov1.VolumeStatus{
			CurrentPool: "pool-sata-1",
			Healthy:     true,
			Replicas: []couchestoriov1.VolumeReplica{
				{Pool: "pool-sata-1", Online: true, Synced: true},
				{Pool: "pool-nvme-1", Online: false, Synced: false},
			},
		},
	}
}

func onlinePool(name string, free uint64) *couchestoriov1.Pool {
	return &couchestoriov1.Pool{
		ObjectMeta: metaObj(name),
		Status: couchestoriov1.PoolStatus{
			Online:            true,
			CapacityTotalBytes: free + 1000,
			CapacityFreeBytes: free,
		},
	}
}

func TestMigrateHotPromotionCompletes(t *testing.T) {
	store := &fakeStore{
		volumes: map[string]*couchestoriov1.Volume{"vol-1": baseVolume("vol-1")},
		pools:   map[string]*couchestoriov1.Pool{"pool-nvme-1": onlinePool("pool-nvme-1", 500)},
		syncAfter: 0,
	}
	e := newTestEngine(store)

	result := e.Migrate(context.Background(), TaskSpec{
		VolumeName:       "vol-1",
		SourcePool:       "pool-sata-1",
		TargetPool:       "pool-nvme-1",
		SyncPollInterval: time.Millisecond,
		SyncTimeout:      time.Second,
		MaxRetries:       3,
	})

	require.Equal(t, Completed, result.State)
	assert.False(t, result.NoOp)
	assert.Contains(t, store.volumes["vol-1"].Annotations, couchestoriov1.LastMigrationAnnotation)
}

func TestMigrateNoOpWhenAlreadyOnTargetPool(t *testing.T) {
	v := baseVolume("vol-1")
	v.Status.CurrentPool = "pool-nvme-1"
	store := &fakeStore{
		volumes: map[string]*couchestoriov1.Volume{"vol-1": v},
		pools:   map[string]*couchestoriov1.Pool{"pool-nvme-1": onlinePool("pool-nvme-1", 500)},
	}
	e := newTestEngine(store)

	result := e.Migrate(context.Background(), TaskSpec{
		VolumeName: "vol-1",
		TargetPool: "pool-nvme-1",
		MaxRetries: 3,
	})

	require.Equal(t, Completed, result.State)
	assert.True(t, result.NoOp)
	assert.NotContains(t, store.volumes["vol-1"].Annotations, couchestoriov1.LastMigrationAnnotation)
}

func TestMigrateDryRunIssuesNoPatches(t *testing.T) {
	store := &fakeStore{
		volumes: map[string]*couchestoriov1.Volume{"vol-1": baseVolume("vol-1")},
		pools:   map[string]*couchestoriov1.Pool{"pool-nvme-1": onlinePool("pool-nvme-1", 500)},
	}
	e := newTestEngine(store)

	result := e.Migrate(context.Background(), TaskSpec{
		VolumeName: "vol-1",
		TargetPool: "pool-nvme-1",
		DryRun:     true,
		MaxRetries: 3,
	})

	require.Equal(t, Completed, result.State)
	assert.True(t, result.NoOp)
	assert.Equal(t, int32(1), store.volumes["vol-1"].Spec.ReplicaCount, "dry run must not patch the volume")
	assert.NotContains(t, store.volumes["vol-1"].Annotations, couchestoriov1.LastMigrationAnnotation)
}

func TestMigrateFailsWhenTargetPoolOffline(t *testing.T) {
	store := &fakeStore{
		volumes: map[string]*couchestoriov1.Volume{"vol-1": baseVolume("vol-1")},
		pools: map[string]*couchestoriov1.Pool{
			"pool-nvme-1": {ObjectMeta: metaObj("pool-nvme-1"), Status: couchestoriov1.PoolStatus{Online: false}},
		},
	}
	e := newTestEngine(store)

	result := e.Migrate(context.Background(), TaskSpec{
		VolumeName: "vol-1",
		TargetPool: "pool-nvme-1",
		MaxRetries: 3,
	})

	require.Equal(t, Failed, result.State)
	assert.NotEmpty(t, result.Error)
}

func TestMigrateFailsWhenTargetPoolOutOfCapacity(t *testing.T) {
	store := &fakeStore{
		volumes: map[string]*couchestoriov1.Volume{"vol-1": baseVolume("vol-1")},
		pools:   map[string]*couchestoriov1.Pool{"pool-nvme-1": onlinePool("pool-nvme-1", 1)},
	}
	e := newTestEngine(store)

	result := e.Migrate(context.Background(), TaskSpec{
		VolumeName: "vol-1",
		TargetPool: "pool-nvme-1",
		MaxRetries: 3,
	})

	require.Equal(t, Failed, result.State)
}

func TestMigrateAbortsOnSyncTimeout(t *testing.T) {
	store := &fakeStore{
		volumes:   map[string]*couchestoriov1.Volume{"vol-1": baseVolume("vol-1")},
		pools:     map[string]*couchestoriov1.Pool{"pool-nvme-1": onlinePool("pool-nvme-1", 500)},
		syncAfter: 1 << 30, // never syncs within the timeout
	}
	e := newTestEngine(store)

	result := e.Migrate(context.Background(), TaskSpec{
		VolumeName:       "vol-1",
		TargetPool:       "pool-nvme-1",
		SyncPollInterval: 5 * time.Millisecond,
		SyncTimeout:      20 * time.Millisecond,
		MaxRetries:       3,
	})

	require.Equal(t, Aborted, result.State)
	assert.NotContains(t, store.volumes["vol-1"].Annotations, couchestoriov1.LastMigrationAnnotation)
}

func TestMigrateRetriesTransientPatchErrors(t *testing.T) {
	store := &fakeStore{
		volumes:       map[string]*couchestoriov1.Volume{"vol-1": baseVolume("vol-1")},
		pools:         map[string]*couchestoriov1.Pool{"pool-nvme-1": onlinePool("pool-nvme-1", 500)},
		patchErr:      errors.New("transient"),
		patchErrCount: 2,
	}
	e := newTestEngine(store)

	result := e.Migrate(context.Background(), TaskSpec{
		VolumeName:       "vol-1",
		TargetPool:       "pool-nvme-1",
		SyncPollInterval: time.Millisecond,
		SyncTimeout:      time.Second,
		MaxRetries:       3,
	})

	require.Equal(t, Completed, result.State)
}

func TestMigrateConcurrentTaskForSameVolumeFails(t *testing.T) {
	store := &fakeStore{
		volumes: map[string]*couchestoriov1.Volume{"vol-1": baseVolume("vol-1")},
		pools:   map[string]*couchestoriov1.Pool{"pool-nvme-1": onlinePool("pool-nvme-1", 500)},
	}
	e := newTestEngine(store)
	e.activeSet.TryInsert("vol-1", &Task{})

	result := e.Migrate(context.Background(), TaskSpec{
		VolumeName: "vol-1",
		TargetPool: "pool-nvme-1",
		MaxRetries: 3,
	})

	require.Equal(t, Failed, result.State)
	assert.Equal(t, ErrMigrationInProgress.Error(), result.Error)
}
