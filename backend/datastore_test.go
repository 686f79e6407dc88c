package backend

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestPoolSize(t *testing.T) {
	tests := []struct {
		name    string
		store   *Datastore
		want    int
		wantErr bool
	}{
		{
			name:    "uninitialized pool",
			store:   NewDatastore(),
			wantErr: true,
		},
		{
			name:  "pool size set explicitly",
			store: NewDatastore(WithPoolSize(64)),
			want:  64,
		},
		{
			name: "pool size derived from experts",
			store: NewDatastore(WithExperts([]*ExpertMetrics{
				{Expert: Expert{Index: 0, Address: "address-0"}},
				{Expert: Expert{Index: 1, Address: "address-1"}},
			})),
			want: 2,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.store.PoolSize()
			if test.wantErr != (err != nil) {
				t.Fatalf("Unexpected error, got %v, want %v", err, test.wantErr)
			}
			if got != test.want {
				t.Errorf("PoolSize() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestAllExperts(t *testing.T) {
	store := NewDatastore()
	store.AddExpert(Expert{Index: 0, Address: "address-0"})
	store.AddExpert(Expert{Index: 1, Address: "address-1"})
	store.SetPoolSize(2)

	want := ExpertSet{
		{Index: 0, Address: "address-0"}: true,
		{Index: 1, Address: "address-1"}: true,
	}
	if diff := cmp.Diff(want, store.AllExperts()); diff != "" {
		t.Errorf("Unexpected experts (-want +got): %v", diff)
	}

	wantAddrs := []string{"address-0", "address-1"}
	gotAddrs := store.GetExpertAddresses()
	if diff := cmp.Diff(wantAddrs, gotAddrs, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("Unexpected addresses (-want +got): %v", diff)
	}
}
