package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/catalogsync/importer/internal/domain"
)

// catalogNamespace seeds deterministic product and variant ids
var catalogNamespace = uuid.MustParse("6f1c9a8e-3b4d-5e2f-9a7c-1d0e8b6f4a21")

// dynamoAPI is the subset of the DynamoDB client the store uses
type dynamoAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore keeps products and variants in two tables keyed by `sku`.
// Writes are UpdateItem calls, so repeating one overwrites in place and
// the id and created_at of the first write are preserved.
type DynamoStore struct {
	client       dynamoAPI
	productTable string
	variantTable string
	now          func() time.Time
}

func NewDynamoStore(client dynamoAPI, productTable, variantTable string) *DynamoStore {
	return &DynamoStore{
		client:       client,
		productTable: productTable,
		variantTable: variantTable,
		now:          time.Now,
	}
}

func (d *DynamoStore) UpsertProduct(ctx context.Context, p domain.CanonicalProduct) (string, error) {
	fields := map[string]any{
		"name":           p.Name,
		"slug":           p.Slug,
		"description":    p.Description,
		"base_price":     p.BasePriceMinorUnits,
		"category":       p.Category,
		"brand":          p.Brand,
		"images":         p.Images,
		"source_key":     p.SourceKey,
		"variants_count": len(p.Variants),
	}
	id := uuid.NewSHA1(catalogNamespace, []byte("product:"+p.SKU)).String()
	return d.upsert(ctx, d.productTable, p.SKU, id, fields, p.SKU, "")
}

func (d *DynamoStore) UpsertVariant(ctx context.Context, productID string, v domain.CanonicalVariant) (string, error) {
	fields := map[string]any{
		"product_id":       productID,
		"size":             v.Size,
		"color":            v.Color,
		"price_adjustment": v.PriceAdjustmentMinorUnits,
		"stock":            v.StockQuantity,
		"active":           v.Active,
	}
	id := uuid.NewSHA1(catalogNamespace, []byte("variant:"+v.SKU)).String()
	return d.upsert(ctx, d.variantTable, v.SKU, id, fields, productID, v.SKU)
}

func (d *DynamoStore) upsert(ctx context.Context, table, sku, id string, fields map[string]any, errSKU, errVariant string) (string, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"sku": sku})
	if err != nil {
		return "", fmt.Errorf("marshal key: %w", err)
	}

	now := d.now().UTC().Format(time.RFC3339)
	fields["updated_at"] = now

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	exprNames := map[string]string{"#id": "id", "#created": "created_at"}
	exprVals := map[string]types.AttributeValue{
		":id":      &types.AttributeValueMemberS{Value: id},
		":created": &types.AttributeValueMemberS{Value: now},
	}
	sets := []string{"#id = if_not_exists(#id, :id)", "#created = if_not_exists(#created, :created)"}
	for i, k := range names {
		namePh := fmt.Sprintf("#f%d", i)
		valPh := fmt.Sprintf(":v%d", i)
		av, err := attributevalue.Marshal(fields[k])
		if err != nil {
			return "", fmt.Errorf("marshal %s: %w", k, err)
		}
		exprNames[namePh] = k
		exprVals[valPh] = av
		sets = append(sets, namePh+" = "+valPh)
	}
	expr := "SET " + strings.Join(sets, ", ")

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &table,
		Key:                       key,
		UpdateExpression:          &expr,
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprVals,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyDynamo(err, errSKU, errVariant)
	}

	var stored struct {
		ID string `dynamodbav:"id"`
	}
	if out != nil && len(out.Attributes) > 0 {
		if err := attributevalue.UnmarshalMap(out.Attributes, &stored); err != nil {
			return "", fmt.Errorf("unmarshal item: %w", err)
		}
	}
	if stored.ID == "" {
		stored.ID = id
	}
	return stored.ID, nil
}

// classifyDynamo sorts an SDK error into retryable and permanent failures
func classifyDynamo(err error, sku, variantSKU string) error {
	ue := &domain.UpsertError{SKU: sku, VariantSKU: variantSKU}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		ue.Transient = true
		ue.Err = fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
		return ue
	}

	switch apiErr.ErrorCode() {
	case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
		ue.Transient = true
		ue.Err = fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr.ErrorMessage())
	case "ResourceNotFoundException":
		ue.Err = fmt.Errorf("%w: %s", domain.ErrNotFound, apiErr.ErrorMessage())
	default:
		if apiErr.ErrorFault() == smithy.FaultServer {
			ue.Transient = true
			ue.Err = fmt.Errorf("%w: %s", domain.ErrRemoteUnavailable, apiErr.ErrorMessage())
		} else {
			ue.Err = fmt.Errorf("%w: %s: %s", domain.ErrValidation, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
	}
	return ue
}
