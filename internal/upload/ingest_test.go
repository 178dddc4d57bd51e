package upload

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/lgulliver/stowaway/internal/common"
	"github.com/lgulliver/stowaway/internal/storage"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, store storage.BlobStorage, path string) []byte {
	obj, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	defer obj.Close()

	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	return data
}

func buildTestZip(t *testing.T, names []string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zstdCompress(t *testing.T, data []byte) []byte {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestReadChunkBody(t *testing.T) {
	payload := bytes.Repeat([]byte("chunk-data "), 10)
	limit := int64(len(payload))

	tests := []struct {
		name     string
		body     []byte
		encoding string
		limit    int64
		want     []byte
		wantErr  bool
	}{
		{name: "identity", body: payload, encoding: "", limit: limit, want: payload},
		{name: "explicit identity", body: payload, encoding: "identity", limit: limit, want: payload},
		{name: "zstd", body: zstdCompress(t, payload), encoding: "zstd", limit: limit, want: payload},
		{name: "zstd mixed case", body: zstdCompress(t, payload), encoding: " ZSTD ", limit: limit, want: payload},
		{name: "identity too large", body: payload, encoding: "", limit: limit - 1, wantErr: true},
		{name: "zstd decodes too large", body: zstdCompress(t, payload), encoding: "zstd", limit: limit - 1, wantErr: true},
		{name: "corrupt zstd", body: []byte("not zstd at all"), encoding: "zstd", limit: limit, wantErr: true},
		{name: "unsupported encoding", body: payload, encoding: "br", limit: limit, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := ReadChunkBody(bytes.NewReader(tt.body), tt.encoding, tt.limit)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
		})
	}
}

func TestRedisResultCache_UnavailableServerIsAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	cache := NewRedisResultCache(common.NewCacheWithClient(client), time.Minute)
	defer client.Close()

	ctx := context.Background()
	cache.Set(ctx, "id", &types.FinalizeResult{Status: types.StatusComplete, Hash: "h"})

	result, ok := cache.Get(ctx, "id")
	assert.False(t, ok)
	assert.Nil(t, result)
}

func TestNoopResultCache(t *testing.T) {
	var cache ResultCache = NoopResultCache{}
	cache.Set(context.Background(), "id", &types.FinalizeResult{Status: types.StatusComplete})

	_, ok := cache.Get(context.Background(), "id")
	assert.False(t, ok)
}
