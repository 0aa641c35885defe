package ddl

import "testing"

func TestTranslate_AlterTableAddColumnWithLengthAndNull(t *testing.T) {
	command := "ALTER TABLE [dbo].[Sales] Add [Note] [NVARCHAR](50) NULL"
	got, err := Translate("Sales", AlterTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ALTER TABLE `Sales` ADD COLUMN `Note` VARCHAR(50) CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci NULL"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTranslate_AlterTableAddColumnNoLengthNotNull(t *testing.T) {
	command := "ALTER TABLE [dbo].[StockItems] Add [IsActive] [BIT] NOT NULL"
	got, err := Translate("StockItems", AlterTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ALTER TABLE `StockItems` ADD COLUMN `IsActive` BOOLEAN CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci NOT NULL"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTranslate_AlterTableAddColumnBare(t *testing.T) {
	command := "ALTER TABLE [dbo].[Sales] Add [Revision] [INT]"
	got, err := Translate("Sales", AlterTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ALTER TABLE `Sales` ADD COLUMN `Revision` INT CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTranslate_AlterTableDropColumn(t *testing.T) {
	command := "ALTER TABLE [dbo].[Sales] DROP COLUMN [Note]"
	got, err := Translate("Sales", AlterTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ALTER TABLE `Sales` DROP COLUMN `Note`"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTranslate_AlterTableDropBareColumn(t *testing.T) {
	command := "ALTER TABLE [dbo].[Sales] DROP [Note]"
	got, err := Translate("Sales", AlterTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ALTER TABLE `Sales` DROP COLUMN `Note`"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTranslate_AlterColumnBecomesModifyColumn(t *testing.T) {
	command := "ALTER TABLE [dbo].[Sales] ALTER COLUMN [Note] [NVARCHAR](100) NULL"
	got, err := Translate("Sales", AlterTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ALTER TABLE `Sales` MODIFY COLUMN `Note` VARCHAR(100) NULL"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTranslate_LockEscalationIsSilentlySkipped(t *testing.T) {
	command := "ALTER TABLE [dbo].[Sales] SET (LOCK_ESCALATION = TABLE)"
	got, err := Translate("Sales", AlterTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("expected an empty skip result, got %q", got)
	}
}

func TestTranslate_DropTableIdentifierRewriteOnly(t *testing.T) {
	command := "DROP TABLE [dbo].[Sales]"
	got, err := Translate("Sales", DropTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "DROP TABLE `Sales`"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTranslate_IsPure(t *testing.T) {
	command := "ALTER TABLE [dbo].[Sales] Add [Note] [NVARCHAR](50) NULL"
	first, err := Translate("Sales", AlterTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Translate("Sales", AlterTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("expected repeated calls with identical input to produce identical output: %q != %q", first, second)
	}
}

func TestTranslate_DataTypeMapping(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"identity column", "ALTER TABLE [dbo].[T] Add [Id] INT IDENTITY(1,1) NOT NULL",
			"ALTER TABLE `T` ADD COLUMN `Id` INT AUTO_INCREMENT CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci NOT NULL"},
		{"nvarchar max", "ALTER TABLE [dbo].[T] Add [Blob] [NVARCHAR](MAX) NULL",
			"ALTER TABLE `T` ADD COLUMN `Blob` TEXT CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci NULL"},
		{"uniqueidentifier", "ALTER TABLE [dbo].[T] Add [Guid] [UNIQUEIDENTIFIER] NOT NULL",
			"ALTER TABLE `T` ADD COLUMN `Guid` VARCHAR(36) CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci NOT NULL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Translate("T", AlterTable, tt.command)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTranslate_UnknownShapePassesThroughWithIdentifierRewrite(t *testing.T) {
	command := "ALTER TABLE [dbo].[Sales] ADD CONSTRAINT [PK_Sales] PRIMARY KEY ([SaleId])"
	got, err := Translate("Sales", AlterTable, command)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ALTER TABLE `Sales` ADD CONSTRAINT `PK_Sales` PRIMARY KEY (`SaleId`)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestValidateOperation(t *testing.T) {
	if err := ValidateOperation(AlterTable); err != nil {
		t.Errorf("unexpected error for AlterTable: %v", err)
	}
	if err := ValidateOperation(DropTable); err != nil {
		t.Errorf("unexpected error for DropTable: %v", err)
	}
	if err := ValidateOperation(Operation("DDL_TRUNCATE_TABLE")); err == nil {
		t.Errorf("expected an error for an unsupported operation")
	}
}
